package placementjson

// pointer helpers, mostly for tests and config proposals

func NewInt32Pointer(v int32) *int32 {
	return &v
}

func NewInt64Pointer(v int64) *int64 {
	return &v
}

func NewFloat64Pointer(v float64) *float64 {
	return &v
}

func NewBoolPointer(v bool) *bool {
	return &v
}

func NewStringPointer(v string) *string {
	return &v
}
