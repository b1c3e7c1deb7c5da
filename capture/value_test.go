package capture

import (
	"math"
	"testing"
)

func TestValueString(t *testing.T) {
	f32 := le.AppendUint32(nil, math.Float32bits(0.5))
	tests := []struct {
		v    Value
		want string
	}{
		{Value{Type: DataBool, Data: []byte{1}}, "true"},
		{Value{Type: DataBool, IsArray: true, Data: []byte{1, 0}}, "[true false]"},
		{Value{Type: DataChar, Data: []byte{'x'}}, "'x'"},
		{Value{Type: DataInt8, Data: []byte{0xff}}, "-1"},
		{Value{Type: DataUint8, Data: []byte{0xff}}, "255"},
		{Value{Type: DataInt16, Data: le.AppendUint16(nil, 0xfffe)}, "-2"},
		{Value{Type: DataUint16, Data: le.AppendUint16(nil, 0xfffe)}, "65534"},
		{Value{Type: DataInt32, Data: le.AppendUint32(nil, 0xfffffffd)}, "-3"},
		{Value{Type: DataUint32, IsArray: true, Data: le.AppendUint32(le.AppendUint32(nil, 1), 2)}, "[1 2]"},
		{Value{Type: DataInt64, Data: le.AppendUint64(nil, math.MaxUint64)}, "-1"},
		{Value{Type: DataUint64, Data: le.AppendUint64(nil, math.MaxUint64)}, "18446744073709551615"},
		{Value{Type: DataFloat, Data: f32}, "0.5"},
		{Value{Type: DataDouble, Data: le.AppendUint64(nil, math.Float64bits(2.25))}, "2.25"},
		{Value{Type: DataString, IsArray: true, Data: []byte("hello\x00")}, `"hello"`},
		{Value{Type: DataUint32, IsArray: true}, "[]"},
		{Value{Type: 200, Data: []byte{1, 2}}, "<2 bytes of DataType(200)>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%s value %v: got %q, want %q", tt.v.Type, tt.v.Data, got, tt.want)
		}
	}
}

func TestValueLen(t *testing.T) {
	v := Value{Type: DataUint16, IsArray: true, Data: make([]byte, 7)}
	if got := v.Len(); got != 3 {
		t.Errorf("got %d elements, want 3", got)
	}
	v = Value{Type: 99, Data: make([]byte, 7)}
	if got := v.Len(); got != 0 {
		t.Errorf("got %d elements, want 0", got)
	}
}
