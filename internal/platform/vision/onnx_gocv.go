//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"
)

// gocvModel runs an ONNX graph through the OpenCV DNN module. The input blob
// is NHWC [1, H, W, C] float32.
type gocvModel struct {
	mu  sync.Mutex
	net gocv.Net
}

func openONNX(path string) (Model, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read ONNX model from %s", path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &gocvModel{net: net}, nil
}

// Predict copies the tensor into a new blob, so the caller's data is never
// referenced after return.
func (m *gocvModel) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.Data) == 0 {
		return nil, errors.New("empty tensor")
	}

	buf := make([]byte, len(t.Data)*4)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&t.Data[0])), len(buf)))
	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, t.Height, t.Width, t.Channels}, gocv.MatTypeCV32F, buf)
	if err != nil {
		return nil, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	// cv::dnn::Net is not safe for concurrent forward passes.
	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("model produced no output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	result := make([]float32, len(values))
	copy(result, values)
	return result, nil
}

func (m *gocvModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
