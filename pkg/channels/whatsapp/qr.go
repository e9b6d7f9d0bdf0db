package whatsapp

import (
	"log/slog"

	"github.com/skip2/go-qrcode"
)

// LogQRSink writes the raw challenge to the log so an operator or UI tailing
// it can render the code.
func LogQRSink(logger *slog.Logger, channel string) QRSink {
	return func(code string) {
		logger.Info("whatsapp: scan QR code to pair",
			slog.String("channel", channel),
			slog.String("qr", code),
		)
	}
}

// PNGQRSink writes each challenge to a PNG file, overwriting the previous one.
func PNGQRSink(path string, size int, logger *slog.Logger) QRSink {
	if size <= 0 {
		size = 256
	}
	return func(code string) {
		if err := qrcode.WriteFile(code, qrcode.Medium, size, path); err != nil {
			logger.Warn("whatsapp: writing QR image", slog.String("path", path), slog.String("err", err.Error()))
			return
		}
		logger.Info("whatsapp: QR image updated", slog.String("path", path))
	}
}

// MultiQRSink fans a challenge out to several sinks in order.
func MultiQRSink(sinks ...QRSink) QRSink {
	return func(code string) {
		for _, s := range sinks {
			if s != nil {
				s(code)
			}
		}
	}
}
