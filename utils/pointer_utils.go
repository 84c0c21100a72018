package utils

// Helper function to convert int to *int32
func int32Ptr(i int32) *int32 {
	return &i
}

// Helper function to convert int to *int64
func int64Ptr(i int64) *int64 {
	return &i
}
