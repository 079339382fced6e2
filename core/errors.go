/*
errors.go - Centralized error types for the stock and access core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the context.

ERROR CATEGORIES:
  1. Authentication - missing/invalid/expired token, identity outcomes
  2. Authorization  - permission denied with the failing tuples
  3. Domain         - product not found/inactive, unit problems, validation
  4. Infrastructure - store unavailable, sequence allocation failure

PROPAGATION:
  Domain errors are deterministic and surface to the caller with a reason.
  Infrastructure errors surface as a generic transient failure. The core
  never retries; StoreFailure classifies a driver error once, at the
  boundary, and the caller logs the operation name.

SEE ALSO:
  - api/errors.go: HTTP status mapping
  - units/units.go: ErrUnknownUnit, ErrUnitMismatch
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/clinic-engine/units"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAuthenticationFailed covers missing, malformed and expired tokens.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrIdentityNotFound is returned when a token subject has no identity.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrIdentityInactive is returned for identities with the active flag off.
	ErrIdentityInactive = errors.New("identity inactive")

	// ErrIdentityResolution is returned when the identity lookup itself failed.
	ErrIdentityResolution = errors.New("identity resolution failed")

	// ErrPermissionDenied is returned when a permission check fails.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrProductNotFound is returned for missing or soft-deleted products.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductInactive is returned when mutating an inactive product.
	ErrProductInactive = errors.New("product inactive")

	// ErrUnitMismatch is returned when converting across unit types.
	ErrUnitMismatch = units.ErrUnitMismatch

	// ErrUnknownUnit is returned for unit names with no definition.
	ErrUnknownUnit = units.ErrUnknownUnit

	// ErrSequenceAllocation is returned when a counter could not be incremented.
	ErrSequenceAllocation = errors.New("sequence allocation failed")

	// ErrStoreUnavailable is returned when the store is unreachable or timed out.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Authentication failure reasons. These are safe to show to clients.
const (
	ReasonMissingToken = "missing token"
	ReasonInvalidToken = "invalid token"
	ReasonTokenExpired = "token expired"
)

// AuthenticationError explains why a credential was rejected.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return ErrAuthenticationFailed
}

// IdentityError reports one of the three identity resolution outcomes.
// Kind is ErrIdentityNotFound, ErrIdentityInactive or ErrIdentityResolution.
type IdentityError struct {
	IdentityID string
	Kind       error
	Err        error
}

func (e *IdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.IdentityID, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.IdentityID)
}

func (e *IdentityError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// PermissionDeniedError lists the capabilities an identity was missing.
type PermissionDeniedError struct {
	IdentityID string
	Missing    []Capability
}

func (e *PermissionDeniedError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.String()
	}
	return fmt.Sprintf("permission denied: %s", strings.Join(names, ", "))
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// ProductError ties a product sentinel to the product it concerns.
type ProductError struct {
	ProductID ProductID
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

// ConversionError wraps a unit conversion failure for a product.
type ConversionError struct {
	ProductID ProductID
	From      string
	To        string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// SequenceAllocationError reports a failed counter increment.
type SequenceAllocationError struct {
	Counter string
	Err     error
}

func (e *SequenceAllocationError) Error() string {
	return fmt.Sprintf("sequence allocation failed for %s: %v", e.Counter, e.Err)
}

func (e *SequenceAllocationError) Unwrap() []error {
	return []error{ErrSequenceAllocation, e.Err}
}

// StoreError reports a store round trip that failed or timed out.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// ValidationError reports invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// StoreFailure classifies err from a store call made during op.
// Domain errors pass through; everything else becomes a StoreError.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if isDomain(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func isDomain(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, ErrValidation)
}

// IsTransient returns true if the error comes from infrastructure and the
// caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrSequenceAllocation) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrUnitMismatch) ||
		errors.Is(err, ErrUnknownUnit)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrIdentityNotFound)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIdentityResolution):
		return "IDENTITY_RESOLUTION_FAILED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrAuthenticationFailed):
		return "AUTHENTICATION_FAILED"
	case errors.Is(err, ErrIdentityNotFound):
		return "IDENTITY_NOT_FOUND"
	case errors.Is(err, ErrIdentityInactive):
		return "IDENTITY_INACTIVE"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrProductNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, ErrProductInactive):
		return "PRODUCT_INACTIVE"
	case errors.Is(err, ErrUnitMismatch):
		return "UNIT_MISMATCH"
	case errors.Is(err, ErrUnknownUnit):
		return "UNKNOWN_UNIT"
	case errors.Is(err, ErrSequenceAllocation):
		return "SEQUENCE_ALLOCATION_FAILED"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
