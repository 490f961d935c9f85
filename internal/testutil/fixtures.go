package testutil

import "github.com/google/uuid"

// TestTenantID and TestUserID are fixed ids handler tests authenticate as,
// so assertions can compare against a known value instead of whatever
// uuid.New() produced for that particular test run.
var (
	TestTenantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	TestUserID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)
