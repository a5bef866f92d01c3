package domain

import "fmt"

// NamingConventionError reports a source file whose name does not encode
// institution and account per the agreed convention.
type NamingConventionError struct {
	FileName string
	Reason   string
}

func (e *NamingConventionError) Error() string {
	return fmt.Sprintf("file name %q does not match naming convention: %s", e.FileName, e.Reason)
}

// DateParseError reports a date cell that is ambiguous or unrecognized.
// Row-scoped: the row is skipped, the batch continues.
type DateParseError struct {
	Value string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("unrecognized date %q", e.Value)
}

// AmountParseError reports a malformed or non-numeric amount cell.
type AmountParseError struct {
	Field string
	Value string
}

func (e *AmountParseError) Error() string {
	return fmt.Sprintf("malformed %s value %q", e.Field, e.Value)
}

// UnknownSourceTypeError reports a source type with no unification mapping.
type UnknownSourceTypeError struct {
	Value string
}

func (e *UnknownSourceTypeError) Error() string {
	return fmt.Sprintf("unknown source type %q", e.Value)
}

// BatchAbortedError is raised when the row failure rate in a batch exceeds
// the configured threshold. Fatal to the batch, never to sibling batches.
type BatchAbortedError struct {
	Failed    int
	Total     int
	Threshold float64
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted: %d of %d rows failed (threshold %.0f%%)",
		e.Failed, e.Total, e.Threshold*100)
}

// ClassifierUnavailableError reports that the external classifier stayed
// unreachable after all retry attempts. Affected records degrade to
// "uncategorized" rather than failing the batch.
type ClassifierUnavailableError struct {
	Attempts int
	Err      error
}

func (e *ClassifierUnavailableError) Error() string {
	return fmt.Sprintf("classifier unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ClassifierUnavailableError) Unwrap() error { return e.Err }

// PersistenceError reports a storage failure during batch commit. The batch
// is rolled back and finalized as failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
