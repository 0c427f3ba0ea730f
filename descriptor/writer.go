package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/resource"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// SetWriter batches descriptor writes against one set and applies them in a single
// UpdateDescriptorSets call.
type SetWriter struct {
	set    core1_0.DescriptorSet
	writes []core1_0.WriteDescriptorSet
}

func NewSetWriter(set core1_0.DescriptorSet) *SetWriter {
	return &SetWriter{set: set}
}

// Buffer points a storage or uniform buffer binding at a byte range of a buffer. A
// negative size selects the whole remaining range.
func (w *SetWriter) Buffer(binding int, descriptorType core1_0.DescriptorType, buffer *resource.Buffer, offset, size int) *SetWriter {
	if size < 0 {
		size = buffer.Size() - offset
	}

	w.writes = append(w.writes, core1_0.WriteDescriptorSet{
		DstSet:          w.set,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorType:  descriptorType,
		BufferInfo: []core1_0.DescriptorBufferInfo{
			{
				Buffer: buffer.Handle(),
				Offset: offset,
				Range:  size,
			},
		},
	})
	return w
}

// StorageImage points a storage image binding at a view in the general layout.
func (w *SetWriter) StorageImage(binding int, view *resource.ImageView) *SetWriter {
	w.writes = append(w.writes, core1_0.WriteDescriptorSet{
		DstSet:          w.set,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorType:  core1_0.DescriptorTypeStorageImage,
		ImageInfo: []core1_0.DescriptorImageInfo{
			{
				ImageView:   view.Handle(),
				ImageLayout: core1_0.ImageLayoutGeneral,
			},
		},
	})
	return w
}

// SampledImages points a combined image sampler array binding at a list of views,
// all sharing one sampler and the shader-read-only layout.
func (w *SetWriter) SampledImages(binding int, views []*resource.ImageView, sampler *resource.Sampler) *SetWriter {
	imageInfo := make([]core1_0.DescriptorImageInfo, 0, len(views))
	for _, view := range views {
		imageInfo = append(imageInfo, core1_0.DescriptorImageInfo{
			ImageView:   view.Handle(),
			Sampler:     sampler.Handle(),
			ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		})
	}

	w.writes = append(w.writes, core1_0.WriteDescriptorSet{
		DstSet:          w.set,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
		ImageInfo:       imageInfo,
	})
	return w
}

// Apply pushes the accumulated writes to the device.
func (w *SetWriter) Apply(device core1_0.Device) error {
	if len(w.writes) == 0 {
		return nil
	}

	err := device.UpdateDescriptorSets(w.writes, nil)
	if err != nil {
		return errors.Wrap(err, "failed to update descriptor sets")
	}

	w.writes = w.writes[:0]
	return nil
}
