package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/units"
)

func TestStoreFailure_WrapsDriverErrors(t *testing.T) {
	driverErr := errors.New("connection refused")

	err := core.StoreFailure("ledger.apply", driverErr)

	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.ErrorIs(t, err, driverErr)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, "STORE_UNAVAILABLE", core.Code(err))

	var se *core.StoreError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "ledger.apply", se.Op)
}

func TestStoreFailure_PassesDomainErrorsThrough(t *testing.T) {
	domain := &core.ProductError{ProductID: "p-1", Err: core.ErrProductInactive}

	err := core.StoreFailure("ledger.apply", domain)

	assert.Same(t, domain, err)
	assert.False(t, core.IsTransient(err))
	assert.Nil(t, core.StoreFailure("noop", nil))
}

func TestStoreFailure_DeadlineIsUnavailable(t *testing.T) {
	err := core.StoreFailure("identity.find", fmt.Errorf("find: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestIdentityError_DistinctOutcomes(t *testing.T) {
	notFound := &core.IdentityError{IdentityID: "u-1", Kind: core.ErrIdentityNotFound}
	inactive := &core.IdentityError{IdentityID: "u-1", Kind: core.ErrIdentityInactive}
	failed := &core.IdentityError{
		IdentityID: "u-1",
		Kind:       core.ErrIdentityResolution,
		Err:        core.StoreFailure("identity.find", errors.New("timeout")),
	}

	assert.ErrorIs(t, notFound, core.ErrIdentityNotFound)
	assert.NotErrorIs(t, notFound, core.ErrIdentityResolution)
	assert.ErrorIs(t, inactive, core.ErrIdentityInactive)
	assert.ErrorIs(t, failed, core.ErrIdentityResolution)
	assert.ErrorIs(t, failed, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, failed, core.ErrIdentityNotFound)
}

func TestConversionError_KeepsUnitSentinels(t *testing.T) {
	_, convErr := units.Convert(dec("1"), "g", "ml")
	err := &core.ConversionError{ProductID: "p-1", From: "g", To: "ml", Err: convErr}

	assert.ErrorIs(t, err, core.ErrUnitMismatch)
	assert.True(t, core.IsClientError(err))
	assert.Equal(t, "UNIT_MISMATCH", core.Code(err))
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&core.ProductError{ProductID: "x", Err: core.ErrProductNotFound}, "PRODUCT_NOT_FOUND"},
		{&core.ProductError{ProductID: "x", Err: core.ErrProductInactive}, "PRODUCT_INACTIVE"},
		{&core.SequenceAllocationError{Counter: "rst-20260104", Err: errors.New("down")}, "SEQUENCE_ALLOCATION_FAILED"},
		{&core.PermissionDeniedError{Missing: []core.Capability{{Category: "inventory", Permission: "canView"}}}, "PERMISSION_DENIED"},
		{core.Invalid("quantity", "must be positive"), "VALIDATION_FAILED"},
		{&core.AuthenticationError{Reason: core.ReasonTokenExpired}, "AUTHENTICATION_FAILED"},
		{errors.New("boom"), "INTERNAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, core.Code(tt.err), "%v", tt.err)
	}
}

func TestPermissionDeniedError_Message(t *testing.T) {
	err := &core.PermissionDeniedError{Missing: []core.Capability{
		{Category: "inventory", Permission: "canCreateRestockOrders"},
		{Category: "inventory", Permission: "canBulkRestock"},
	}}
	assert.Equal(t, "permission denied: inventory.canCreateRestockOrders, inventory.canBulkRestock", err.Error())
}
