package journal

import "codeberg.org/mutker/autoprofiled/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("journal_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("journal_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("journal_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("journal_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("journal_transaction_failed")

	// Storage Errors
	ErrStorageQuery = errors.ErrorCode("journal_storage_query_failed")
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed
	ErrRecord          = errors.ErrorCode("journal_record_failed")
	ErrInvalidEntry    = errors.ErrorCode("journal_invalid_entry")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
