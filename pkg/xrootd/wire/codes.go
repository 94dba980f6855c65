// Package wire defines the XRootD binary wire protocol: the fixed-size
// handshake and request/response headers, request and error code
// enumerations, open-file and stat flag bitmasks, and the errno->protocol
// error mapping. All multi-byte integers are big-endian (spec.md §6).
//
// Grounded on the teacher's internal/protocol/nfs/rpc package for the shape
// of a hand-rolled, non-XDR, big-endian header codec (fragment header
// parsing via encoding/binary), generalized to XRootD's 24-byte request /
// 8-byte response headers.
package wire

// RequestCode identifies an XRootD request.
type RequestCode uint16

const (
	ReqAuth RequestCode = 3000 + iota
	ReqQuery
	ReqChmod
	ReqClose
	ReqDirlist
	ReqGetfile
	ReqProtocol
	ReqLogin
	ReqMkdir
	ReqMv
	ReqOpen
	ReqPing
	ReqPutfile
	ReqRead
	ReqRm
	ReqRmdir
	ReqSync
	ReqStat
	ReqSet
	ReqWrite
	ReqAdmin
	ReqPrepare
	ReqStatx
	ReqEndsess
	ReqBind
	ReqReadv
	ReqVerifyw
	ReqLocate
	ReqTruncate
	ReqSigver
	ReqDecrypt
	ReqWritev
	ReqFattr
	ReqPgread
	ReqPgwrite
	ReqChkpoint
)

var requestNames = map[RequestCode]string{
	ReqAuth: "auth", ReqQuery: "query", ReqChmod: "chmod", ReqClose: "close",
	ReqDirlist: "dirlist", ReqGetfile: "getfile", ReqProtocol: "protocol",
	ReqLogin: "login", ReqMkdir: "mkdir", ReqMv: "mv", ReqOpen: "open",
	ReqPing: "ping", ReqPutfile: "putfile", ReqRead: "read", ReqRm: "rm",
	ReqRmdir: "rmdir", ReqSync: "sync", ReqStat: "stat", ReqSet: "set",
	ReqWrite: "write", ReqAdmin: "admin", ReqPrepare: "prepare",
	ReqStatx: "statx", ReqEndsess: "endsess", ReqBind: "bind",
	ReqReadv: "readv", ReqVerifyw: "verifyw", ReqLocate: "locate",
	ReqTruncate: "truncate", ReqSigver: "sigver", ReqDecrypt: "decrypt",
	ReqWritev: "writev", ReqFattr: "fattr", ReqPgread: "pgread",
	ReqPgwrite: "pgwrite", ReqChkpoint: "chkpoint",
}

func (c RequestCode) String() string {
	if n, ok := requestNames[c]; ok {
		return n
	}
	return "unknown"
}

// ErrorCode is a protocol-level error code (spec.md §6).
type ErrorCode uint32

const (
	ErrArgInvalid ErrorCode = 3000 + iota
	ErrArgMissing
	ErrArgTooLong
	ErrFileLocked
	ErrFileNotOpen
	ErrFSError
	ErrInvalidRequest
	ErrIOError
	ErrNoMemory
	ErrNoSpace
	ErrNotAuthorized
	ErrNotFound
	ErrServerError
	ErrUnsupported
	ErrNoserver
	ErrNotFile
	ErrIsDirectory
	ErrCancelled
	ErrChkLenErr
	ErrChkSumErr
	ErrInProgress
	ErrOverQuota
	ErrSigVerErr
	ErrDecryptErr
	ErrOverloaded
)

var errorNames = map[ErrorCode]string{
	ErrArgInvalid: "ArgInvalid", ErrArgMissing: "ArgMissing",
	ErrArgTooLong: "ArgTooLong", ErrFileLocked: "FileLocked",
	ErrFileNotOpen: "FileNotOpen", ErrFSError: "FSError",
	ErrInvalidRequest: "InvalidRequest", ErrIOError: "IOError",
	ErrNoMemory: "NoMemory", ErrNoSpace: "NoSpace",
	ErrNotAuthorized: "NotAuthorized", ErrNotFound: "NotFound",
	ErrServerError: "ServerError", ErrUnsupported: "Unsupported",
	ErrNoserver: "noserver", ErrNotFile: "NotFile",
	ErrIsDirectory: "isDirectory", ErrCancelled: "Cancelled",
	ErrChkLenErr: "ChkLenErr", ErrChkSumErr: "ChkSumErr",
	ErrInProgress: "inProgress", ErrOverQuota: "overQuota",
	ErrSigVerErr: "SigVerErr", ErrDecryptErr: "DecryptErr",
	ErrOverloaded: "Overloaded",
}

func (e ErrorCode) String() string {
	if n, ok := errorNames[e]; ok {
		return n
	}
	return "Unknown"
}

// Status is the response status code (spec.md §4.4).
type Status uint16

const (
	StatusOK       Status = 0
	StatusOkSoFar  Status = 4000
	StatusAttn     Status = 4001
	StatusAuthmore Status = 4002
	StatusError    Status = 4003
	StatusRedirect Status = 4004
	StatusWait     Status = 4005
	StatusWaitResp Status = 4006
)

// OpenFlag is a bit in the open-file request's options bitmask.
type OpenFlag uint16

const (
	OpenCompress OpenFlag = 1 << iota
	OpenDelete
	OpenForce
	OpenNew
	OpenRead
	OpenUpdate
	OpenAsync
	OpenRefresh
	OpenMkpath
	OpenAppend
	OpenRetstat
	OpenReplica
	OpenPosc
	OpenNowait
	OpenSeqio
	OpenWrto
)

// StatFlag is a bit in a stat reply's flags field.
type StatFlag uint32

const (
	StatXset StatFlag = 1 << iota
	StatIsDir
	StatOther
	StatOffline
	StatPoscpend
	StatReadable
	StatWritable
	StatBkpexist
)

// PageSize is the fixed page-read/page-write alignment unit (spec.md §4.8/4.9).
const PageSize = 4096

// Page-write bad-checksum limits (spec.md §4.9).
const (
	// PgMaxEpr is the maximum number of failing pages a single pgwrite
	// request may accumulate before the request fails fatally.
	PgMaxEpr = 256
	// PgMaxEos is the maximum number of failing pages a file may hold
	// unfixed across requests before the request fails fatally.
	PgMaxEos = 4096
)

// MaxWritevLen bounds the total byte length of a writev element list.
const MaxWritevLen = 2 << 20

// Checkpoint sub-opcodes (spec.md §4.11).
type ChkpointOp uint16

const (
	ChkpointBegin ChkpointOp = iota
	ChkpointCommit
	ChkpointQuery
	ChkpointRollback
	ChkpointXeq
)

// Fattr sub-codes (spec.md §4.12).
type FattrOp uint8

const (
	FattrGet FattrOp = iota
	FattrSet
	FattrDel
	FattrList
)

// Fattr bounds (spec.md §4.12/§6.1).
const (
	FattrMaxNameLen  = 255
	FattrMaxValueLen = 65536
	// FattrNamespacePrefix is the single namespace every attribute name
	// must live under.
	FattrNamespacePrefix = "xrootd."
)
