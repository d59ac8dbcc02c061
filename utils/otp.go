package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// OtpLength is the number of digits in a one-time code.
const OtpLength = 6

const otpAlphabet = "0123456789"

// GenerateOtpCode returns a random numeric code of OtpLength digits.
func GenerateOtpCode() (string, error) {
	code := make([]byte, OtpLength)
	max := big.NewInt(int64(len(otpAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		code[i] = otpAlphabet[n.Int64()]
	}
	return string(code), nil
}
