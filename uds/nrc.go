package uds

// Negative Response Code names, trimmed from the teacher's nrc.go to the
// codes this module's workflows are actually likely to see (security
// access, transfer, and the standard sequencing/range failures), used only
// to render a friendlier NegativeResponseError.
const (
	nrcGeneralReject                         byte = 0x10
	nrcServiceNotSupported                   byte = 0x11
	nrcSubFunctionNotSupported               byte = 0x12
	nrcIncorrectMessageLengthOrInvalidFormat byte = 0x13
	nrcConditionsNotCorrect                  byte = 0x22
	nrcRequestSequenceError                  byte = 0x24
	nrcRequestOutOfRange                     byte = 0x31
	nrcSecurityAccessDenied                  byte = 0x33
	nrcInvalidKey                            byte = 0x35
	nrcExceededNumberOfAttempts              byte = 0x36
	nrcRequiredTimeDelayNotExpired           byte = 0x37
	nrcUploadDownloadNotAccepted             byte = 0x70
	nrcTransferDataSuspended                 byte = 0x71
	nrcGeneralProgrammingFailure             byte = 0x72
	nrcWrongBlockSequenceCounter             byte = 0x73
)

var nrcNames = map[byte]string{
	nrcGeneralReject:                         "General Reject",
	nrcServiceNotSupported:                   "Service Not Supported",
	nrcSubFunctionNotSupported:               "SubFunction Not Supported",
	nrcIncorrectMessageLengthOrInvalidFormat: "Incorrect Message Length or Invalid Format",
	nrcConditionsNotCorrect:                  "Conditions Not Correct",
	nrcRequestSequenceError:                  "Request Sequence Error",
	nrcRequestOutOfRange:                     "Request Out of Range",
	nrcSecurityAccessDenied:                  "Security Access Denied",
	nrcInvalidKey:                            "Invalid Key",
	nrcExceededNumberOfAttempts:              "Exceeded Number of Attempts",
	nrcRequiredTimeDelayNotExpired:           "Required Time Delay Not Expired",
	nrcUploadDownloadNotAccepted:             "Upload/Download Not Accepted",
	nrcTransferDataSuspended:                 "Transfer Data Suspended",
	nrcGeneralProgrammingFailure:             "General Programming Failure",
	nrcWrongBlockSequenceCounter:             "Wrong Block Sequence Counter",
}
