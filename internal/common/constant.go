package common

// Collection (table) names of the operational store.
const (
	PersistedGrantsTable = "persisted_grants"
	DeviceCodesTable     = "device_codes"
)

// Kinds reported by the cleanup reaper in logs and metrics.
const (
	KindPersistedGrants = "persisted_grants"
	KindDeviceCodes     = "device_codes"
)
