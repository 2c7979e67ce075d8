package xattr

// Open probes dir once for real xattr support and returns the appropriate
// Store backend for every path under it. Call this once per bucket root at
// bucket-open time; the result should be cached on the bucket, not
// re-probed per call.
func Open(dir string) Store {
	if supportsNative(dir) {
		return nativeStore{}
	}
	return sidecarStore{}
}
