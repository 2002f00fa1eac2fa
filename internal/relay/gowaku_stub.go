//go:build !real_waku

package relay

// The go-waku backend is only compiled in with the real_waku build tag.
func newGoWakuBackend() goWakuBackend {
	return nil
}
