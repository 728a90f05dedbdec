package frame

// Carrier frame modes (u16 bitfield). Unknown bits MUST be preserved and
// forwarded untouched by anything that only inspects the known bits.
const (
	ModeAnnounce        uint16 = 1 << 0
	ModeData            uint16 = 1 << 1
	ModeManifest        uint16 = 1 << 2
	ModeNamespaceAnycast uint16 = 1 << 3

	// Peering subtypes, used on carrier frames exchanged between two
	// TCP peers (handshake + heartbeats), never forwarded past one hop.
	ModePeerHello uint16 = 1 << 8
	ModePeerAck   uint16 = 1 << 9
	ModePeerPing  uint16 = 1 << 10
)

func HasMode(modes, bit uint16) bool { return modes&bit != 0 }

// IsAnnounce reports whether the modes field marks this as a route
// announcement (as opposed to application data carried in a flood).
func IsAnnounce(modes uint16) bool { return HasMode(modes, ModeAnnounce) }

// Client namespace nibble (high byte of the microframe modes field).
type ClientNamespace uint8

const (
	NsIntrinsic ClientNamespace = 0x0
	NsAddr      ClientNamespace = 0x1
	NsContact   ClientNamespace = 0x2
	NsLink      ClientNamespace = 0x3
	NsPeer      ClientNamespace = 0x4
	NsRecv      ClientNamespace = 0x5
	NsSend      ClientNamespace = 0x6
	NsStatus    ClientNamespace = 0x7
	NsSub       ClientNamespace = 0x8
)

// Client operator nibble (low byte).
type ClientOp uint8

const (
	OpCreate    ClientOp = 0x1
	OpDestroy   ClientOp = 0x2
	OpUp        ClientOp = 0x3
	OpDown      ClientOp = 0x4
	OpAdd       ClientOp = 0x5
	OpDelete    ClientOp = 0x6
	OpModify    ClientOp = 0x7
	OpList      ClientOp = 0x10
	OpQuery     ClientOp = 0x11
	OpOne       ClientOp = 0x12
	OpMany      ClientOp = 0x13
	OpFlood     ClientOp = 0x14
	OpFetch     ClientOp = 0x15
	OpSubscribe ClientOp = 0x16
	OpSystem    ClientOp = 0x17
)

// MakeClientMode assembles a full mode word from a namespace and an
// operator. Not every combination is meaningful; ClientModeValid
// narrows to the opcodes actually defined by the IPC protocol.
func MakeClientMode(ns ClientNamespace, op ClientOp) uint16 {
	return uint16(ns)<<8 | uint16(op)
}

func SplitClientMode(modes uint16) (ClientNamespace, ClientOp) {
	return ClientNamespace(modes >> 8), ClientOp(modes & 0xff)
}

// validClientModes enumerates the opcodes defined in spec.md §4.8.
var validClientModes = map[uint16]bool{
	MakeClientMode(NsIntrinsic, OpSystem): true, // handshake/greeting/auth

	MakeClientMode(NsAddr, OpCreate):  true,
	MakeClientMode(NsAddr, OpDestroy): true,
	MakeClientMode(NsAddr, OpUp):      true,
	MakeClientMode(NsAddr, OpDown):    true,
	MakeClientMode(NsAddr, OpList):    true,

	MakeClientMode(NsPeer, OpList):  true,
	MakeClientMode(NsPeer, OpQuery): true,

	MakeClientMode(NsLink, OpList): true,

	MakeClientMode(NsSend, OpOne):   true,
	MakeClientMode(NsSend, OpMany):  true,
	MakeClientMode(NsSend, OpFlood): true,

	MakeClientMode(NsRecv, OpFetch): true,

	MakeClientMode(NsSub, OpAdd):    true,
	MakeClientMode(NsSub, OpDelete): true,

	MakeClientMode(NsStatus, OpSystem): true,
}

func ClientModeValid(modes uint16) bool { return validClientModes[modes] }
