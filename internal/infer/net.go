package infer

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Acceleration selects the inference backend.
type Acceleration int

const (
	// AccelDisabled forces CPU inference.
	AccelDisabled Acceleration = iota
	// AccelEnabled requests the OpenVINO backend and falls back to CPU
	// when the accelerator is unavailable.
	AccelEnabled
)

// NetInterpreter runs a gocv DNN network. Each instance owns its own input
// staging buffer, so instances never alias each other's memory.
type NetInterpreter struct {
	net         gocv.Net
	outputNames []string
	inputH      int
	inputW      int
	staging     []byte
}

// applyAcceleration requests the accelerator backend, degrading to CPU
// when setup fails rather than failing the load.
func applyAcceleration(net *gocv.Net, accel Acceleration) {
	if accel != AccelEnabled {
		return
	}
	if err := net.SetPreferableBackend(gocv.NetBackendOpenVINO); err != nil {
		net.SetPreferableBackend(gocv.NetBackendDefault)
	} else if err := net.SetPreferableTarget(gocv.NetTargetVPU); err != nil {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
}

// NewNetInterpreter loads a model file into a gocv network. The input is a
// single [1, h, w, 3] image tensor; outputNames selects the output layers
// in the order callers expect them.
func NewNetInterpreter(modelPath string, inputH, inputW int, outputNames []string, accel Acceleration) (*NetInterpreter, error) {
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("read model %s: network is empty", modelPath)
	}
	applyAcceleration(&net, accel)
	return newNetInterpreter(net, inputH, inputW, outputNames), nil
}

// NewNetInterpreterFromBytes loads an in-memory ONNX model, for embedders
// that bundle model weights in the binary or receive them over the wire
// instead of shipping model files.
func NewNetInterpreterFromBytes(model []byte, inputH, inputW int, outputNames []string, accel Acceleration) (*NetInterpreter, error) {
	net, err := readNetBytes(model)
	if err != nil {
		return nil, err
	}
	applyAcceleration(&net, accel)
	return newNetInterpreter(net, inputH, inputW, outputNames), nil
}

func newNetInterpreter(net gocv.Net, inputH, inputW int, outputNames []string) *NetInterpreter {
	return &NetInterpreter{
		net:         net,
		outputNames: outputNames,
		inputH:      inputH,
		inputW:      inputW,
		staging:     make([]byte, inputH*inputW*3*4),
	}
}

func readNetBytes(model []byte) (gocv.Net, error) {
	if len(model) == 0 {
		return gocv.Net{}, fmt.Errorf("read model bytes: empty model")
	}
	net, err := gocv.ReadNetFromONNXBytes(model)
	if err != nil {
		return gocv.Net{}, fmt.Errorf("read model bytes: %w", err)
	}
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("read model bytes: network is empty")
	}
	return net, nil
}

// Invoke runs the network on a single [1, h, w, 3] image tensor.
func (n *NetInterpreter) Invoke(inputs []Tensor) ([]Tensor, error) {
	if err := checkInputCount(len(inputs), 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	if in.Elements() != n.inputH*n.inputW*3 || len(in.Data) != in.Elements() {
		return nil, fmt.Errorf("expected %dx%dx3 input, got shape %v", n.inputH, n.inputW, in.Shape)
	}

	for i, v := range in.Data {
		binary.LittleEndian.PutUint32(n.staging[i*4:], math.Float32bits(v))
	}

	img, err := gocv.NewMatFromBytes(n.inputH, n.inputW, gocv.MatTypeCV32FC3, n.staging)
	if err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(n.inputW, n.inputH), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	n.net.SetInput(blob, "")

	outs := n.net.ForwardLayers(n.outputNames)
	results := make([]Tensor, len(outs))
	for i := range outs {
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			for _, o := range outs {
				o.Close()
			}
			return nil, fmt.Errorf("read output %s: %w", n.outputNames[i], err)
		}
		out := Tensor{Shape: outs[i].Size(), Data: make([]float32, len(data))}
		copy(out.Data, data)
		results[i] = out
	}
	for _, o := range outs {
		o.Close()
	}

	return results, nil
}

// Close releases the network.
func (n *NetInterpreter) Close() error {
	return n.net.Close()
}

// TensorNetInterpreter runs a gocv DNN network whose inputs are plain
// float tensors (landmark coordinates, embeddings) instead of images.
// inputNames bind the caller's tensors to the network's input layers by
// position.
type TensorNetInterpreter struct {
	net         gocv.Net
	inputNames  []string
	outputNames []string
}

// NewTensorNetInterpreter loads a tensor-input model. Accelerator setup
// degrades to CPU the same way NewNetInterpreter does.
func NewTensorNetInterpreter(modelPath string, inputNames, outputNames []string, accel Acceleration) (*TensorNetInterpreter, error) {
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("read model %s: network is empty", modelPath)
	}
	applyAcceleration(&net, accel)
	return &TensorNetInterpreter{
		net:         net,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// NewTensorNetInterpreterFromBytes loads a tensor-input model from
// in-memory ONNX bytes.
func NewTensorNetInterpreterFromBytes(model []byte, inputNames, outputNames []string, accel Acceleration) (*TensorNetInterpreter, error) {
	net, err := readNetBytes(model)
	if err != nil {
		return nil, err
	}
	applyAcceleration(&net, accel)
	return &TensorNetInterpreter{
		net:         net,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Invoke binds each tensor to its input layer and forwards the network.
func (n *TensorNetInterpreter) Invoke(inputs []Tensor) ([]Tensor, error) {
	if err := checkInputCount(len(inputs), len(n.inputNames)); err != nil {
		return nil, err
	}

	for i, in := range inputs {
		buf := make([]byte, len(in.Data)*4)
		for j, v := range in.Data {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		blob, err := gocv.NewMatWithSizesFromBytes(in.Shape, gocv.MatTypeCV32F, buf)
		if err != nil {
			return nil, fmt.Errorf("stage input %s: %w", n.inputNames[i], err)
		}
		n.net.SetInput(blob, n.inputNames[i])
		blob.Close()
	}

	outs := n.net.ForwardLayers(n.outputNames)
	results := make([]Tensor, len(outs))
	for i := range outs {
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			for _, o := range outs {
				o.Close()
			}
			return nil, fmt.Errorf("read output %s: %w", n.outputNames[i], err)
		}
		out := Tensor{Shape: outs[i].Size(), Data: make([]float32, len(data))}
		copy(out.Data, data)
		results[i] = out
	}
	for _, o := range outs {
		o.Close()
	}

	return results, nil
}

// Close releases the network.
func (n *TensorNetInterpreter) Close() error {
	return n.net.Close()
}
