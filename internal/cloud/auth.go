package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BurningMethod selects which secret the device was provisioned with.
type BurningMethod int

// Provisioning modes.
const (
	// BurnProductSecret means one shared product secret was burned; the
	// device signs with it for dynamic registration.
	BurnProductSecret BurningMethod = 0

	// BurnDeviceSecret means a per-device secret was burned.
	BurnDeviceSecret BurningMethod = 1
)

// Credentials holds the derived MQTT connection identity for the platform.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// signSuffix declares the signature scheme to the platform broker.
const signSuffix = "|securemode=3,signmethod=hmacsha256|"

// DeriveCredentials computes the broker login for one device identity.
//
// The username is "deviceKey&productKey". The client identifier is the
// device key with the signature scheme suffix. The password is the
// hex-encoded HMAC-SHA256 over the canonical identity string
// "clientId<cid>deviceName<dk>productKey<pk>", keyed by the product secret
// or device secret according to the burning method.
//
// Parameters:
//   - productKey: Platform product key
//   - deviceKey: Platform device name
//   - productSecret: Shared product secret, used when method is BurnProductSecret
//   - deviceSecret: Per-device secret, used when method is BurnDeviceSecret
//   - method: Provisioning mode selecting the signing secret
//
// Returns:
//   - Credentials: Derived client identifier, username and password
//   - error: Missing secret for the selected method
func DeriveCredentials(productKey, deviceKey, productSecret, deviceSecret string, method BurningMethod) (Credentials, error) {
	var secret string
	switch method {
	case BurnProductSecret:
		secret = productSecret
	case BurnDeviceSecret:
		secret = deviceSecret
	default:
		return Credentials{}, fmt.Errorf("unknown burning method %d", method)
	}
	if secret == "" {
		return Credentials{}, fmt.Errorf("no secret provisioned for burning method %d", method)
	}

	content := "clientId" + deviceKey + "deviceName" + deviceKey + "productKey" + productKey

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	password := hex.EncodeToString(mac.Sum(nil))

	return Credentials{
		ClientID: deviceKey + signSuffix,
		Username: deviceKey + "&" + productKey,
		Password: password,
	}, nil
}
