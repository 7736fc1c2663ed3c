package gpu

import (
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	initErr  error
}

var (
	ctx Context
	log = logrus.WithField("component", "gpu")
)

// GetContext returns the singleton GPU context, initializing it if necessary.
// A failed initialization is remembered and returned on every later call.
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.initErr = ctx.init()
	})
	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, errors.New("gpu: WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return errors.New("gpu: failed to create WebGPU instance")
	}

	// Prefer a discrete NVIDIA adapter when one is enumerated
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		log.WithFields(logrus.Fields{
			"adapter": info.Name,
			"vendor":  info.VendorName,
			"type":    info.AdapterType,
		}).Debug("found adapter")
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			log.WithError(err).Debug("adapter request failed, trying next preference")
		}
	}
	if c.Adapter == nil {
		if err == nil {
			err = errors.New("no adapter returned")
		}
		return errors.Wrap(err, "gpu: all adapter attempts failed")
	}

	info := c.Adapter.GetInfo()
	log.WithFields(logrus.Fields{"adapter": info.Name, "vendor": info.VendorName}).Info("using GPU adapter")

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return errors.Wrap(err, "gpu: request device")
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
