package errors

const (
	ErrCodeUnknown ErrCode = iota
	ErrCodeInvalidRule
	ErrCodeLifecycleConflict
	ErrCodeAddonInitFailed
	ErrCodeAddonRuntimeFailed
	ErrCodeRegistryConsistency
	ErrCodeAddonNotFound
	ErrCodeAddonExists
	ErrCodeHandlerNotFound
	ErrCodeManifestInvalid
	ErrCodeIncompatibleVersion
	ErrCodeHookTimeout
	ErrCodeStartServerFailed
	ErrCodeCastFailed
	ErrCodeValidationFailed
	ErrCodeLintFailed
	ErrCodePublishFailed
	ErrCodeFileNotFound
	ErrCodeFileOpenFailed
	ErrCodeFileReadFailed
	ErrCodeNilPointer
	ErrCodePoolExhausted
	ErrCodeConfigParseError
	ErrCodeChecksumMismatch
)

var errCodeNames = map[ErrCode]string{
	ErrCodeUnknown:             "unknown",
	ErrCodeInvalidRule:         "invalid-rule",
	ErrCodeLifecycleConflict:   "lifecycle-conflict",
	ErrCodeAddonInitFailed:     "addon-init-failed",
	ErrCodeAddonRuntimeFailed:  "addon-runtime-failed",
	ErrCodeRegistryConsistency: "registry-consistency",
	ErrCodeAddonNotFound:       "addon-not-found",
	ErrCodeAddonExists:         "addon-exists",
	ErrCodeHandlerNotFound:     "handler-not-found",
	ErrCodeManifestInvalid:     "manifest-invalid",
	ErrCodeIncompatibleVersion: "incompatible-version",
	ErrCodeHookTimeout:         "hook-timeout",
	ErrCodeStartServerFailed:   "start-server-failed",
	ErrCodeCastFailed:          "cast-failed",
	ErrCodeValidationFailed:    "validation-failed",
	ErrCodeLintFailed:          "lint-failed",
	ErrCodePublishFailed:       "publish-failed",
	ErrCodeFileNotFound:        "file-not-found",
	ErrCodeFileOpenFailed:      "file-open-failed",
	ErrCodeFileReadFailed:      "file-read-failed",
	ErrCodeNilPointer:          "nil-pointer",
	ErrCodePoolExhausted:       "pool-exhausted",
	ErrCodeConfigParseError:    "config-parse-error",
	ErrCodeChecksumMismatch:    "checksum-mismatch",
}

// String returns the stable wire name of the code, as carried in API
// error bodies and state change notifications.
func (c ErrCode) String() string {
	if name, ok := errCodeNames[c]; ok {
		return name
	}
	return "unknown"
}

var (
	ErrInvalidRule = NewHookFlowError(
		ErrCodeInvalidRule, "rule declaration is invalid", nil)
	ErrLifecycleConflict = NewHookFlowError(
		ErrCodeLifecycleConflict, "transition is not allowed from the current state", nil)
	ErrAddonInitFailed = NewHookFlowError(
		ErrCodeAddonInitFailed, "addon failed to initialize", nil)
	ErrAddonRuntimeFailed = NewHookFlowError(
		ErrCodeAddonRuntimeFailed, "addon hook failed during dispatch", nil)
	ErrRegistryConsistency = NewHookFlowError(
		ErrCodeRegistryConsistency, "registry snapshot failed its consistency check", nil)

	ErrAddonNotFound = NewHookFlowError(
		ErrCodeAddonNotFound, "addon not found", nil)
	ErrAddonExists = NewHookFlowError(
		ErrCodeAddonExists, "addon is already installed", nil)
	ErrHandlerNotFound = NewHookFlowError(
		ErrCodeHandlerNotFound, "handler is not registered in the catalog", nil)
	ErrManifestInvalid = NewHookFlowError(
		ErrCodeManifestInvalid, "addon manifest is invalid", nil)
	ErrIncompatibleVersion = NewHookFlowError(
		ErrCodeIncompatibleVersion, "addon version is incompatible", nil)

	ErrHookTimeout = NewHookFlowError(
		ErrCodeHookTimeout, "hook invocation exceeded its time budget", nil)

	ErrFailedToStartServer = NewHookFlowError(
		ErrCodeStartServerFailed, "failed to start server", nil)

	ErrCastFailed = NewHookFlowError(
		ErrCodeCastFailed, "failed to cast", nil)

	ErrValidationFailed = NewHookFlowError(
		ErrCodeValidationFailed, "failed to validate configuration", nil)
	ErrLintingFailed = NewHookFlowError(
		ErrCodeLintFailed, "failed to lint configuration", nil)
	ErrConfigParseError = NewHookFlowError(
		ErrCodeConfigParseError, "failed to parse configuration", nil)

	ErrChecksumMismatch = NewHookFlowError(
		ErrCodeChecksumMismatch, "manifest checksum does not match the expected value", nil)

	ErrPublishFailed = NewHookFlowError(
		ErrCodePublishFailed, "failed to publish state change", nil)

	ErrFileNotFound = NewHookFlowError(
		ErrCodeFileNotFound, "file not found", nil)
	ErrFileOpenFailed = NewHookFlowError(
		ErrCodeFileOpenFailed, "failed to open file", nil)
	ErrFileReadFailed = NewHookFlowError(
		ErrCodeFileReadFailed, "failed to read file", nil)

	ErrNilPointer = NewHookFlowError(
		ErrCodeNilPointer, "value is nil", nil)
	ErrPoolExhausted = NewHookFlowError(
		ErrCodePoolExhausted, "pool is exhausted", nil)
)
