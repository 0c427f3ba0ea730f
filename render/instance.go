package render

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"golang.org/x/exp/slog"
)

// SurfaceSource is the windowing collaborator: it names the instance extensions it
// needs and turns a live instance into a presentable surface. The render core never
// touches windowing events.
type SurfaceSource interface {
	InstanceExtensions() []string
	CreateSurface(instance core1_0.Instance) (khr_surface.Surface, common.VkResult, error)
}

// Options tunes renderer construction.
type Options struct {
	ApplicationName string
	// EnableValidation requests the debug utils extension and routes driver
	// diagnostics into the logger
	EnableValidation    bool
	AllocationCallbacks *driver.AllocationCallbacks
}

func debugCallback(logger *slog.Logger) func(ext_debug_utils.DebugUtilsMessageTypeFlags, ext_debug_utils.DebugUtilsMessageSeverityFlags, *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	return func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
		level := slog.LevelWarn
		if severity&ext_debug_utils.SeverityError != 0 {
			level = slog.LevelError
		}

		logger.LogAttrs(context.Background(), level, "driver diagnostic",
			slog.String("type", msgType.String()),
			slog.String("message", data.Message),
		)
		return false
	}
}

// createInstance builds the instance with the surface source's extensions, plus
// portability enumeration where the loader offers it and debug utils when
// validation is on.
func createInstance(logger *slog.Logger, loader *core.VulkanLoader, surfaceSource SurfaceSource, options Options) (core1_0.Instance, ext_debug_utils.DebugUtilsMessenger, error) {
	availableExtensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to enumerate instance extensions")
	}

	extensionNames := append([]string{}, surfaceSource.InstanceExtensions()...)
	var flags core1_0.InstanceCreateFlags

	_, ok := availableExtensions[khr_portability_enumeration.ExtensionName]
	if ok {
		extensionNames = append(extensionNames, khr_portability_enumeration.ExtensionName)
		flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	createInfo := core1_0.InstanceCreateInfo{
		ApplicationName:       options.ApplicationName,
		ApplicationVersion:    common.CreateVersion(1, 0, 0),
		EngineName:            "kiln",
		EngineVersion:         common.CreateVersion(1, 0, 0),
		APIVersion:            common.Vulkan1_2,
		EnabledExtensionNames: extensionNames,
		Flags:                 flags,
	}

	messengerInfo := ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    debugCallback(logger),
	}

	if options.EnableValidation {
		createInfo.EnabledExtensionNames = append(createInfo.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		createInfo.NextOptions = common.NextOptions{Next: messengerInfo}
	}

	instance, _, err := loader.CreateInstance(options.AllocationCallbacks, createInfo)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create instance")
	}

	var messenger ext_debug_utils.DebugUtilsMessenger
	if options.EnableValidation {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(instance)
		messenger, _, err = debugLoader.CreateDebugUtilsMessenger(instance, options.AllocationCallbacks, messengerInfo)
		if err != nil {
			instance.Destroy(options.AllocationCallbacks)
			return nil, nil, errors.Wrap(err, "failed to create debug messenger")
		}
	}

	return instance, messenger, nil
}
