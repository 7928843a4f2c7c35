package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTableOpaqueCompletion(t *testing.T) {
	table := NewSymbolTable("rtcore.h")

	require.NoError(t, table.Add(&Decl{Name: "RTCRay", Kind: KindStruct, Struct: &Struct{Opaque: true}}))
	require.NoError(t, table.Add(&Decl{Name: "RTCRay", Kind: KindStruct, Struct: &Struct{
		Fields: []Field{{Name: "org_x", Type: TypeRef{Name: "float"}}},
		Align:  16,
	}}))
	// A later forward reference must not erase the definition.
	require.NoError(t, table.Add(&Decl{Name: "RTCRay", Kind: KindStruct, Struct: &Struct{Opaque: true}}))

	d, ok := table.Lookup("RTCRay")
	require.True(t, ok)
	assert.False(t, d.Struct.Opaque)
	assert.Equal(t, 16, d.Struct.Align)
	assert.Equal(t, 1, table.Len())
}

func TestSymbolTableRejectsRedefinition(t *testing.T) {
	table := NewSymbolTable("rtcore.h")
	require.NoError(t, table.Add(&Decl{Name: "rtcNewDevice", Kind: KindFunction, Func: &FuncSig{}}))

	err := table.Add(&Decl{Name: "rtcNewDevice", Kind: KindTypedef, Typedef: &Typedef{Type: TypeRef{Name: "int"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedDecl))
}

func TestUnresolvedReferences(t *testing.T) {
	table := NewSymbolTable("rtcore.h")
	require.NoError(t, table.Add(&Decl{Name: "RTCDevice", Kind: KindTypedef, Typedef: &Typedef{
		Type: TypeRef{Name: "RTCDeviceTy", Pointers: 1},
	}}))
	require.NoError(t, table.Add(&Decl{Name: "rtcSetDeviceErrorFunction", Kind: KindFunction, Func: &FuncSig{
		Result: TypeRef{Name: "void"},
		Params: []Param{
			{Name: "device", Type: TypeRef{Name: "RTCDevice"}},
			{Name: "size", Type: TypeRef{Name: "size_t"}},
			{Name: "userPtr", Type: TypeRef{Name: "void", Pointers: 1}},
		},
	}}))

	missing := table.Unresolved()
	assert.Equal(t, []UnresolvedRef{
		{Decl: "RTCDevice", Ref: "RTCDeviceTy"},
		{Decl: "rtcSetDeviceErrorFunction", Ref: "size_t"},
	}, missing)
}

func TestTypeRefString(t *testing.T) {
	tests := []struct {
		name string
		ref  TypeRef
		want string
	}{
		{name: "const char pointer", ref: TypeRef{Name: "char", Const: true, Pointers: 1}, want: "const char*"},
		{name: "array", ref: TypeRef{Name: "float", Array: []int{3, 4}}, want: "float[3][4]"},
		{
			name: "function pointer",
			ref: TypeRef{Pointers: 1, Func: &FuncSig{
				Result: TypeRef{Name: "void"},
				Params: []Param{{Type: TypeRef{Name: "void", Pointers: 1}}, {Type: TypeRef{Name: "RTCError"}}},
			}},
			want: "void (*)(void*, RTCError)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ref.String())
		})
	}
}

func TestGenerationErrorUnwrap(t *testing.T) {
	err := &GenerationError{Stage: StageNormalize, Symbol: "RTCFormat", Err: ErrInvalidRule}

	assert.True(t, errors.Is(err, ErrInvalidRule))
	assert.Equal(t, "normalize: RTCFormat: invalid rewrite rule", err.Error())

	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, StageNormalize, stage)
}

func TestEnumSigned(t *testing.T) {
	assert.False(t, (&Enum{Members: []EnumMember{{Value: 0}, {Value: 0x9001}}}).Signed())
	assert.True(t, (&Enum{Members: []EnumMember{{Value: -1}}}).Signed())
}
