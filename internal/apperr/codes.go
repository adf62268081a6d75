// Package apperr provides the coded domain errors surfaced by every core operation.
package apperr

import "net/http"

// Code is a machine-readable error code.
type Code string

// Kind groups codes into the categories callers branch on.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindAuthorization    Kind = "authorization"
	KindStateConflict    Kind = "state_conflict"
	KindCapacity         Kind = "capacity"
	KindNotFound         Kind = "not_found"
	KindIntegrity        Kind = "integrity"
	KindTransportFailure Kind = "transport_failure"
	KindInternal         Kind = "internal"
)

const (
	// Validation
	CodeValidation           Code = "validation"
	CodeMissingDocument      Code = "missing_document"
	CodeScoreOutOfRange      Code = "score_out_of_range"
	CodeRubricOverweight     Code = "rubric_overweight"
	CodeConfirmationMismatch Code = "confirmation_mismatch"

	// Authentication / authorization
	CodeAuthNotFound  Code = "auth_not_found"
	CodeAuthBadSecret Code = "auth_bad_secret"
	CodeAuthInactive  Code = "auth_inactive"
	CodeForbidden     Code = "forbidden"

	// State
	CodeStateNotAllowed    Code = "state_not_allowed"
	CodeEventNotModifiable Code = "event_not_modifiable"
	CodeEventEnded         Code = "event_ended"
	CodeCriterionInUse     Code = "criterion_in_use"
	CodeScoringDisabled    Code = "scoring_disabled"
	CodeWindowElapsed      Code = "window_elapsed"
	CodeRoleConflict       Code = "role_conflict"
	CodeAlreadyEnrolled    Code = "already_enrolled"

	// Capacity
	CodeCapacityExhausted Code = "capacity_exhausted"
	CodeGroupFull         Code = "group_full"

	// Lookup
	CodeNotFound Code = "not_found"

	// Uniqueness
	CodeDuplicateUsername    Code = "duplicate_username"
	CodeDuplicateEmail       Code = "duplicate_email"
	CodeDuplicateNationalID  Code = "duplicate_national_id"
	CodeProjectCodeExhausted Code = "project_code_exhausted"

	CodeTransportFailure Code = "transport_failure"
	CodeInternal         Code = "internal"
)

// Kind maps a code to its category.
func (c Code) Kind() Kind {
	switch c {
	case CodeValidation, CodeMissingDocument, CodeScoreOutOfRange, CodeRubricOverweight, CodeConfirmationMismatch:
		return KindValidation
	case CodeAuthNotFound, CodeAuthBadSecret, CodeAuthInactive:
		return KindAuthentication
	case CodeForbidden:
		return KindAuthorization
	case CodeStateNotAllowed, CodeEventNotModifiable, CodeEventEnded, CodeCriterionInUse,
		CodeScoringDisabled, CodeWindowElapsed, CodeRoleConflict, CodeAlreadyEnrolled:
		return KindStateConflict
	case CodeCapacityExhausted, CodeGroupFull:
		return KindCapacity
	case CodeNotFound:
		return KindNotFound
	case CodeDuplicateUsername, CodeDuplicateEmail, CodeDuplicateNationalID, CodeProjectCodeExhausted:
		return KindIntegrity
	case CodeTransportFailure:
		return KindTransportFailure
	default:
		return KindInternal
	}
}

// HTTPStatus maps a kind to the status the HTTP adapter answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict, KindCapacity, KindIntegrity:
		return http.StatusConflict
	case KindTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a kind to the CLI exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return 2
	case KindStateConflict, KindCapacity, KindIntegrity:
		return 3
	case KindNotFound:
		return 4
	case KindAuthentication, KindAuthorization:
		return 5
	default:
		return 1
	}
}
