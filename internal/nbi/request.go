package nbi

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/astrogator/internal/sim/state"
	"github.com/signalsfoundry/astrogator/model"
	"github.com/signalsfoundry/astrogator/timectrl"
)

// Request document fields.
const (
	fieldID     = "id"
	fieldDeltaV = "delta_v"
	fieldPoints = "points"
	fieldUTC    = "utc"
	fieldRate   = "rate"
)

// requireID returns the non-empty "id" string of req.
func requireID(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()[fieldID]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, fieldID)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || strings.TrimSpace(sv.StringValue) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidRequest, fieldID)
	}
	return sv.StringValue, nil
}

// parseDeltaV reads "delta_v" as either {x, y, z} or a three-element list.
func parseDeltaV(req *structpb.Struct) ([]float64, error) {
	v, ok := req.GetFields()[fieldDeltaV]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", state.ErrMalformedCommand, fieldDeltaV)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make([]float64, 0, 3)
		for _, axis := range []string{"x", "y", "z"} {
			n, ok := fields[axis].GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s must be a number", state.ErrMalformedCommand, fieldDeltaV, axis)
			}
			out = append(out, n.NumberValue)
		}
		return out, nil
	case *structpb.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]float64, 0, len(values))
		for i, item := range values {
			n, ok := item.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a number", state.ErrMalformedCommand, fieldDeltaV, i)
			}
			out = append(out, n.NumberValue)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an object or list", state.ErrMalformedCommand, fieldDeltaV)
	}
}

// optionalPoints reads the optional "points" count; 0 means unset.
func optionalPoints(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()[fieldPoints]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 1 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue > maxPathPoints {
		return 0, fmt.Errorf("%w: %s must be an integer in [1, %d]", ErrInvalidRequest, fieldPoints, maxPathPoints)
	}
	return int(n.NumberValue), nil
}

// optionalClockTime reads the optional "utc" clock time.
func optionalClockTime(req *structpb.Struct) (time.Time, bool, error) {
	v, ok := req.GetFields()[fieldUTC]
	if !ok {
		return time.Time{}, false, nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, fieldUTC)
	}
	t, err := timectrl.ParseTime(strings.TrimSpace(sv.StringValue))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, fieldUTC, err)
	}
	return t, true, nil
}

// optionalRate reads the optional non-negative "rate".
func optionalRate(req *structpb.Struct) (float64, bool, error) {
	v, ok := req.GetFields()[fieldRate]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || math.IsInf(n.NumberValue, 0) || math.IsNaN(n.NumberValue) {
		return 0, false, fmt.Errorf("%w: %s must be a finite number >= 0", ErrInvalidRequest, fieldRate)
	}
	return n.NumberValue, true, nil
}

func vecValue(v model.Vec3) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
		structpb.NewNumberValue(v.X),
		structpb.NewNumberValue(v.Y),
		structpb.NewNumberValue(v.Z),
	}})
}

func stringList(items []string) *structpb.Value {
	values := make([]*structpb.Value, 0, len(items))
	for _, s := range items {
		values = append(values, structpb.NewStringValue(s))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func object(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}
