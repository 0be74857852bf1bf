package wgconf

import (
	"github.com/skip2/go-qrcode"

	"github.com/graemester/wgfriend/internal/wgerr"
)

// qrPixelSize matches the 256px square used by
// packalyst-wireguard-admin-panel's QR endpoint — large enough for a
// phone camera to scan a full remote-client config reliably.
const qrPixelSize = 256

// RenderQR encodes a remote-client config's literal text as a PNG QR
// image at error-correction level M, per §4.6's "QR output is the
// literal remote-client .conf text encoded as a QR image."
func RenderQR(confText string) ([]byte, error) {
	png, err := qrcode.Encode(confText, qrcode.Medium, qrPixelSize)
	if err != nil {
		return nil, wgerr.Wrap(wgerr.KindRemote, "QrEncodeFailed", "encode config as QR", err)
	}
	return png, nil
}
