package tbuf

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation names the kind of a node in the descriptive operation graph.
type Operation uint16

const (
	OperationNone Operation = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMatMul
	OpNeg
	OpExp
	OpLog
	OpSqrt
	OpPow
	OpRelu
	OpLeakyRelu
	OpSigmoid
	OpTanh
	OpGelu
	OpSilu
	OpSoftmax
	OpLogSoftmax
	OpBatchNorm
	OpLayerNorm
	OpRMSNorm
	OpMaxPool
	OpAvgPool
	OpConv2D
	OpReshape
	OpTranspose
	OpConcat
	OpEmbedding
	OpMSELoss
	OpCrossEntropyLoss
	OpSGD
	OpAdam
	OpAdamW

	opCount
)

var operationNames = [...]string{
	OperationNone:      "None",
	OpAdd:              "Add",
	OpSub:              "Sub",
	OpMul:              "Mul",
	OpDiv:              "Div",
	OpMatMul:           "MatMul",
	OpNeg:              "Neg",
	OpExp:              "Exp",
	OpLog:              "Log",
	OpSqrt:             "Sqrt",
	OpPow:              "Pow",
	OpRelu:             "Relu",
	OpLeakyRelu:        "LeakyRelu",
	OpSigmoid:          "Sigmoid",
	OpTanh:             "Tanh",
	OpGelu:             "Gelu",
	OpSilu:             "Silu",
	OpSoftmax:          "Softmax",
	OpLogSoftmax:       "LogSoftmax",
	OpBatchNorm:        "BatchNorm",
	OpLayerNorm:        "LayerNorm",
	OpRMSNorm:          "RMSNorm",
	OpMaxPool:          "MaxPool",
	OpAvgPool:          "AvgPool",
	OpConv2D:           "Conv2D",
	OpReshape:          "Reshape",
	OpTranspose:        "Transpose",
	OpConcat:           "Concat",
	OpEmbedding:        "Embedding",
	OpMSELoss:          "MSELoss",
	OpCrossEntropyLoss: "CrossEntropyLoss",
	OpSGD:              "SGD",
	OpAdam:             "Adam",
	OpAdamW:            "AdamW",
}

// Valid reports whether o is a known, non-None operation kind.
func (o Operation) Valid() bool {
	return o > OperationNone && o < opCount
}

func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return "Operation(" + strconv.Itoa(int(o)) + ")"
}

// ParseOperation resolves an operation name case-insensitively.
func ParseOperation(s string) (Operation, bool) {
	for i, name := range operationNames {
		if i != 0 && strings.EqualFold(name, s) {
			return Operation(i), true
		}
	}
	return OperationNone, false
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	v, ok := ParseOperation(string(b))
	if !ok {
		return fmt.Errorf("%w: operation %q", ErrInvalidArgument, b)
	}
	*o = v
	return nil
}
