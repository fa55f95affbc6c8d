package cad

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

var _ ports.GeometryKernel = (*CommandKernel)(nil)

// CommandKernel reads mass properties by running an external program on
// an interchange file. The argv template references the file as {input}.
// The program must print a JSON object such as
//
//	{"volume": 12500.0, "surface_area": 4200.0, "center_of_gravity": [25, 10, 5]}
//
// where center_of_gravity may also be an object with x, y and z members.
type CommandKernel struct {
	argv   []string
	logger *zap.Logger
}

// NewCommandKernel creates a kernel adapter from an argv template. The
// slice is copied, and an empty program yields ErrEmptyCommand. A nil
// logger discards diagnostics.
func NewCommandKernel(argv []string, logger *zap.Logger) (*CommandKernel, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandKernel{argv: append([]string(nil), argv...), logger: logger}, nil
}

// ReadProperties implements ports.GeometryKernel.
func (k *CommandKernel) ReadProperties(ctx context.Context, interchangePath string) (domain.GeometricProperties, error) {
	argv := expand(k.argv, map[string]string{PlaceholderInput: interchangePath})
	k.logger.Debug("reading properties", zap.Strings("argv", argv))

	out, err := run(ctx, "read", argv)
	if err != nil {
		return domain.GeometricProperties{}, err
	}
	props, err := ParseProperties(out)
	if err != nil {
		return domain.GeometricProperties{}, NewCommandError("read", argv[0], 0, "", err)
	}
	return props, nil
}

// ParseProperties decodes a kernel's JSON report. Missing or non-numeric
// members are an error wrapping ports.ErrInvalidResponse.
func ParseProperties(data []byte) (domain.GeometricProperties, error) {
	if !gjson.ValidBytes(data) {
		return domain.GeometricProperties{}, fmt.Errorf("%w: output is not JSON", ports.ErrInvalidResponse)
	}
	doc := gjson.ParseBytes(data)

	volume, err := number(doc, "volume")
	if err != nil {
		return domain.GeometricProperties{}, err
	}
	area, err := number(doc, "surface_area")
	if err != nil {
		return domain.GeometricProperties{}, err
	}
	cg, err := vector(doc.Get("center_of_gravity"))
	if err != nil {
		return domain.GeometricProperties{}, err
	}
	return domain.GeometricProperties{Volume: volume, SurfaceArea: area, CenterOfGravity: cg}, nil
}

func number(doc gjson.Result, path string) (float64, error) {
	r := doc.Get(path)
	if !r.Exists() {
		return 0, fmt.Errorf("%w: missing %s", ports.ErrInvalidResponse, path)
	}
	if r.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s is not a number", ports.ErrInvalidResponse, path)
	}
	return r.Float(), nil
}

func vector(r gjson.Result) (domain.Vector3, error) {
	switch {
	case !r.Exists():
		return domain.Vector3{}, fmt.Errorf("%w: missing center_of_gravity", ports.ErrInvalidResponse)
	case r.IsArray():
		items := r.Array()
		if len(items) != 3 {
			return domain.Vector3{}, fmt.Errorf("%w: center_of_gravity has %d components, want 3", ports.ErrInvalidResponse, len(items))
		}
		var c [3]float64
		for i, it := range items {
			if it.Type != gjson.Number {
				return domain.Vector3{}, fmt.Errorf("%w: center_of_gravity[%d] is not a number", ports.ErrInvalidResponse, i)
			}
			c[i] = it.Float()
		}
		return domain.Vector3{X: c[0], Y: c[1], Z: c[2]}, nil
	case r.IsObject():
		x, err := number(r, "x")
		if err != nil {
			return domain.Vector3{}, err
		}
		y, err := number(r, "y")
		if err != nil {
			return domain.Vector3{}, err
		}
		z, err := number(r, "z")
		if err != nil {
			return domain.Vector3{}, err
		}
		return domain.Vector3{X: x, Y: y, Z: z}, nil
	default:
		return domain.Vector3{}, fmt.Errorf("%w: center_of_gravity must be an array or object", ports.ErrInvalidResponse)
	}
}
