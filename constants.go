package lcbook

// commandMagic identifies whether a frame is a request or a response.
type commandMagic uint8

const (
	reqMagic commandMagic = 0x80
	resMagic commandMagic = 0x81
)

// commandCode is the memcached binary protocol opcode.
type commandCode uint8

const (
	cmdGet              commandCode = 0x00
	cmdSet              commandCode = 0x01
	cmdAdd              commandCode = 0x02
	cmdReplace          commandCode = 0x03
	cmdDelete           commandCode = 0x04
	cmdIncrement        commandCode = 0x05
	cmdDecrement        commandCode = 0x06
	cmdAppend           commandCode = 0x0e
	cmdPrepend          commandCode = 0x0f
	cmdNoop             commandCode = 0x0a
	cmdTouch            commandCode = 0x1c
	cmdGetReplica       commandCode = 0x83
	cmdHello            commandCode = 0x1f
	cmdSASLListMechs    commandCode = 0x20
	cmdSASLAuth         commandCode = 0x21
	cmdSASLStep         commandCode = 0x22
	cmdGetClusterConfig commandCode = 0xb5
	cmdGetErrorMap      commandCode = 0xfe
	cmdSelectBucket     commandCode = 0x89
	cmdObserve          commandCode = 0x92
	cmdObserveSeqNo     commandCode = 0x91
)

// StatusCode is the memcached binary protocol response status.
type StatusCode uint16

const (
	StatusSuccess         StatusCode = 0x00
	StatusKeyNotFound     StatusCode = 0x01
	StatusKeyExists       StatusCode = 0x02
	StatusTooBig          StatusCode = 0x03
	StatusInvalidArgs     StatusCode = 0x04
	StatusNotStored       StatusCode = 0x05
	StatusBadDelta        StatusCode = 0x06
	StatusNotMyVBucket    StatusCode = 0x07
	StatusNoBucket        StatusCode = 0x08
	StatusAuthStale       StatusCode = 0x1f
	StatusAuthError       StatusCode = 0x20
	StatusAuthContinue    StatusCode = 0x21
	StatusRangeError      StatusCode = 0x22
	StatusAccessError     StatusCode = 0x24
	StatusNotInitialized  StatusCode = 0x25
	StatusRollback        StatusCode = 0x23
	StatusUnknownCommand  StatusCode = 0x81
	StatusOutOfMemory     StatusCode = 0x82
	StatusNotSupported    StatusCode = 0x83
	StatusInternalError   StatusCode = 0x84
	StatusBusy            StatusCode = 0x85
	StatusTmpFail         StatusCode = 0x86
)

// DatatypeFlag is a bit in the frame's datatype byte.
type DatatypeFlag uint8

const (
	DatatypeFlagJSON       DatatypeFlag = 0x01
	DatatypeFlagCompressed DatatypeFlag = 0x02
)

// ServiceType identifies which cluster service an endpoint belongs to, used
// by AuthProvider to scope credential requests.
type ServiceType int

const (
	MemdService ServiceType = iota
	MgmtService
	CapiService
	N1qlService
)

// HelloFeature is a feature negotiated during the HELLO handshake.
type HelloFeature uint16

const (
	FeatureTls          HelloFeature = 0x02
	FeatureXattr        HelloFeature = 0x06
	FeatureSelectBucket HelloFeature = 0x08
	FeatureXerror       HelloFeature = 0x07
	FeatureSeqNo        HelloFeature = 0x04
	FeatureSnappy       HelloFeature = 0x0a
	FeatureDurations    HelloFeature = 0x0f
)

// bucketType distinguishes vbucket-routed Couchbase buckets from
// ketama-routed memcached buckets.
type bucketType int

const (
	bktTypeInvalid bucketType = iota
	bktTypeCouchbase
	bktTypeMemcached
)

// KeyState is the persistence/existence state reported by an OBSERVE
// response for a single node.
type KeyState uint8

const (
	// KeyStateNotPersisted indicates the key is in memory, but not yet written to disk.
	KeyStateNotPersisted KeyState = 0x00
	// KeyStatePersisted indicates that the key has been written to disk.
	KeyStatePersisted KeyState = 0x01
	// KeyStateNotFound indicates that the key is not found in memory or on disk.
	KeyStateNotFound KeyState = 0x80
	// KeyStateDeleted indicates that the key has been written to disk as deleted.
	KeyStateDeleted KeyState = 0x81
)

const noReplicaSentinel = -1

// NoReplica is returned by VBucketMap.RouteReplica when the requested
// replica slot is not populated in the current topology.
const NoReplica = noReplicaSentinel
