//go:build !gocv
// +build !gocv

package vision

import "errors"

// openONNX reports that the binary was built without OpenCV support.
func openONNX(path string) (Model, error) {
	_ = path
	return nil, errors.New("gocv build tag is not enabled")
}
