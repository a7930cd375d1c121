/*Package asi provides discovery of ZWO ASI cameras on the USB bus.

The vendor SDK owns all control of the camera itself; this package only
answers "what is plugged in" so an unattended daemon can log attached
hardware and pick a device before handing off to the SDK-backed driver.
*/
package asi

import (
	"fmt"

	"github.com/google/gousb"
)

// VendorID is the ZWO USB vendor ID
const VendorID = 0x03c3

// USBInfo describes one attached ZWO camera.
type USBInfo struct {
	// Product is the USB product string, e.g. "ASI183MM Pro"
	Product string

	// ProductID is the USB PID for the model
	ProductID uint16

	// Bus is the USB bus number
	Bus int

	// Address is the device address on the bus
	Address int
}

func (i USBInfo) String() string {
	return fmt.Sprintf("%s [%04x] bus %d addr %d", i.Product, i.ProductID, i.Bus, i.Address)
}

// ListCameras scans the USB bus for devices with the ZWO vendor ID and
// returns one entry per attached camera.  An empty slice with a nil error
// means no cameras are plugged in.
func ListCameras() ([]USBInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(VendorID)
	})
	// OpenDevices may return both devices and an error; report what we
	// could enumerate
	out := make([]USBInfo, 0, len(devs))
	for _, dev := range devs {
		info := USBInfo{
			ProductID: uint16(dev.Desc.Product),
			Bus:       dev.Desc.Bus,
			Address:   dev.Desc.Address,
		}
		if s, perr := dev.Product(); perr == nil {
			info.Product = s
		}
		out = append(out, info)
		dev.Close()
	}
	return out, err
}
