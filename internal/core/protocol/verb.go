package protocol

// Verb identifies the operation a packet carries. Numeric values are fixed
// across protocol versions.
type Verb uint8

const (
	VerbNOP                  Verb = 0x00
	VerbHELLO                Verb = 0x01
	VerbERROR                Verb = 0x02
	VerbOK                   Verb = 0x03
	VerbWHOIS                Verb = 0x04
	VerbRENDEZVOUS           Verb = 0x05
	VerbFRAME                Verb = 0x06
	VerbEXTFRAME             Verb = 0x07
	VerbECHO                 Verb = 0x08
	VerbMULTICASTLIKE        Verb = 0x09
	VerbNETWORKCREDENTIALS   Verb = 0x0a
	VerbNETWORKCONFIGREQUEST Verb = 0x0b
	VerbNETWORKCONFIG        Verb = 0x0c
	VerbMULTICASTGATHER      Verb = 0x0d
	VerbMULTICASTFRAMEOld    Verb = 0x0e
	VerbPUSHDIRECTPATHS      Verb = 0x10
	VerbUSERMESSAGE          Verb = 0x14
	VerbMULTICAST            Verb = 0x16
	VerbENCAP                Verb = 0x17
)

var verbNames = map[Verb]string{
	VerbNOP:                  "NOP",
	VerbHELLO:                "HELLO",
	VerbERROR:                "ERROR",
	VerbOK:                   "OK",
	VerbWHOIS:                "WHOIS",
	VerbRENDEZVOUS:           "RENDEZVOUS",
	VerbFRAME:                "FRAME",
	VerbEXTFRAME:             "EXT_FRAME",
	VerbECHO:                 "ECHO",
	VerbMULTICASTLIKE:        "MULTICAST_LIKE",
	VerbNETWORKCREDENTIALS:   "NETWORK_CREDENTIALS",
	VerbNETWORKCONFIGREQUEST: "NETWORK_CONFIG_REQUEST",
	VerbNETWORKCONFIG:        "NETWORK_CONFIG",
	VerbMULTICASTGATHER:      "MULTICAST_GATHER",
	VerbMULTICASTFRAMEOld:    "MULTICAST_FRAME_deprecated",
	VerbPUSHDIRECTPATHS:      "PUSH_DIRECT_PATHS",
	VerbUSERMESSAGE:          "USER_MESSAGE",
	VerbMULTICAST:            "MULTICAST",
	VerbENCAP:                "ENCAP",
}

func (v Verb) String() string {
	if s, ok := verbNames[v]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error codes carried by ERROR packets.
const (
	ErrorNone                      = 0x00
	ErrorInvalidRequest            = 0x01
	ErrorBadProtocolVersion        = 0x02
	ErrorObjNotFound               = 0x03
	ErrorIdentityCollision         = 0x04
	ErrorUnsupportedOperation      = 0x05
	ErrorNeedMembershipCertificate = 0x06
	ErrorNetworkAccessDenied       = 0x07
	ErrorCannotDeliver             = 0x09
)
