package errors

// Code represents an error code
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"                 // Unknown error occurred
	CodeInternalError         Code = "INTERNAL_ERROR"          // Internal error
	CodeValidationFailed      Code = "VALIDATION_FAILED"       // Input validation failed
	CodeInvalidParameter      Code = "INVALID_PARAMETER"       // Invalid parameter provided
	CodeMissingParameter      Code = "MISSING_PARAMETER"       // Required parameter missing
	CodeIoError               Code = "IO_ERROR"                // Input/output operation failed
	CodeFileNotFound          Code = "FILE_NOT_FOUND"          // File not found
	CodeNotFound              Code = "NOT_FOUND"               // Record not found
	CodeAlreadyExists         Code = "ALREADY_EXISTS"          // Already exists
	CodePermissionDenied      Code = "PERMISSION_DENIED"       // Authentication or host key rejected
	CodeNetworkError          Code = "NETWORK_ERROR"           // Network error
	CodeNetworkTimeout        Code = "NETWORK_TIMEOUT"         // Network operation timed out
	CodeTransferFailed        Code = "TRANSFER_FAILED"         // Remote copy failed
	CodeRemoteCommandFailed   Code = "REMOTE_COMMAND_FAILED"   // Remote command exited non-zero
	CodeImageBuildFailed      Code = "IMAGE_BUILD_FAILED"      // Image build failed
	CodeDockerfileSyntaxError Code = "DOCKERFILE_SYNTAX_ERROR" // Dockerfile syntax error
	CodeConfigurationInvalid  Code = "CONFIGURATION_INVALID"   // Configuration invalid
	CodeCancelled             Code = "CANCELLED"               // Operator aborted a prompt
)

type codeMetadata struct {
	severity  Severity
	retryable bool
}

var metadata = map[Code]codeMetadata{
	CodeValidationFailed:      {SeverityLow, false},
	CodeInvalidParameter:      {SeverityLow, false},
	CodeMissingParameter:      {SeverityLow, false},
	CodeCancelled:             {SeverityLow, false},
	CodeConfigurationInvalid:  {SeverityMedium, false},
	CodeIoError:               {SeverityHigh, false},
	CodeFileNotFound:          {SeverityMedium, false},
	CodeNotFound:              {SeverityLow, false},
	CodeAlreadyExists:         {SeverityLow, false},
	CodePermissionDenied:      {SeverityHigh, false},
	CodeNetworkError:          {SeverityMedium, true},
	CodeNetworkTimeout:        {SeverityMedium, true},
	CodeTransferFailed:        {SeverityHigh, false},
	CodeRemoteCommandFailed:   {SeverityMedium, false},
	CodeImageBuildFailed:      {SeverityHigh, false},
	CodeDockerfileSyntaxError: {SeverityMedium, false},
	CodeInternalError:         {SeverityCritical, false},
}

// GetCodeMetadata returns severity and retryability for a code.
func GetCodeMetadata(code Code) (Severity, bool, bool) {
	m, ok := metadata[code]
	return m.severity, m.retryable, ok
}
