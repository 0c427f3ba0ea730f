package scene

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestTextureKindFormat(t *testing.T) {
	require.Equal(t, core1_0.FormatBC1_RGBAsRGB, TextureKindAlbedo.Format())
	require.Equal(t, core1_0.FormatBC1_RGBAsRGB, TextureKindEmissive.Format())
	require.Equal(t, core1_0.FormatBC5_UnsignedNormalized, TextureKindNormal.Format())
	require.Equal(t, core1_0.FormatBC5_UnsignedNormalized, TextureKindSpecular.Format())
	require.Panics(t, func() { TextureKind(99).Format() })
}
