package device

import (
	"strings"

	logx "labd/pkg/logx"
)

// detect walks every transport resource, opens it, asks *IDN? and keeps the
// first connection whose response contains the class identification string.
// Probe failures on individual resources are expected (other instruments,
// dead endpoints) and only logged at debug.
func detect(t Transport, idn string, log logx.Logger) Conn {
	if t == nil {
		return nil
	}
	for _, res := range t.Resources() {
		conn, err := t.Open(res)
		if err != nil {
			log.Debug("probe open failed", logx.String("resource", res), logx.Err(err))
			continue
		}
		resp, err := conn.Query("*IDN?")
		if err != nil {
			log.Debug("probe idn failed", logx.String("resource", res), logx.Err(err))
			_ = conn.Close()
			continue
		}
		if strings.Contains(resp, idn) {
			log.Info("instrument detected", logx.String("idn", idn), logx.String("resource", res))
			return conn
		}
		_ = conn.Close()
	}
	return nil
}
