// Package validation checks HTTP request fields and path parameters.
package validation

import (
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	addressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashRe  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	weiRe     = regexp.MustCompile(`^[0-9]+$`)
)

// IsAddress reports whether s is a 0x-prefixed 20-byte address.
func IsAddress(s string) bool { return addressRe.MatchString(s) }

// IsTxHash reports whether s is a 0x-prefixed 32-byte hash.
func IsTxHash(s string) bool { return txHashRe.MatchString(s) }

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every rejected field of a request.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field, returning nil when it passes.
type Rule func() *FieldError

// Validate runs every rule and returns the failures in order.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe := rule(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Check runs the rules and, on failure, writes a 400 validation_error
// response listing them. It reports whether the request may proceed.
func Check(c *gin.Context, rules ...Rule) bool {
	errs := Validate(rules...)
	if len(errs) == 0 {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
	return false
}

func fail(field, msg string) *FieldError { return &FieldError{Field: field, Message: msg} }

// The rules below accept an empty value; pair them with Required when the
// field is mandatory.

func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return fail(field, "is required")
		}
		return nil
	}
}

func Address(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsAddress(value) {
			return fail(field, "must be a valid Ethereum address (0x...)")
		}
		return nil
	}
}

// Wei accepts a base-10 amount that fits in 256 bits. Zero passes; the
// contract decides what it accepts.
func Wei(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		if !weiRe.MatchString(value) {
			return fail(field, "must be a decimal amount in wei")
		}
		if _, err := uint256.FromDecimal(value); err != nil {
			return fail(field, "exceeds 256 bits")
		}
		return nil
	}
}

// HexData accepts 0x-prefixed call data with whole bytes.
func HexData(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		if _, err := hexutil.Decode(value); err != nil {
			return fail(field, "must be 0x-prefixed hex with an even number of digits")
		}
		return nil
	}
}

func OneOf(field, value string, allowed ...string) Rule {
	return func() *FieldError {
		if value != "" && !slices.Contains(allowed, value) {
			return fail(field, "must be one of "+strings.Join(allowed, ", "))
		}
		return nil
	}
}

// ParseWei parses an amount already checked by Wei; empty means zero.
func ParseWei(value string) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(value)
}

// BodyLimit caps request bodies at maxSize bytes.
func BodyLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// AddressParam rejects requests whose :address path parameter is malformed.
func AddressParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr := c.Param("address"); addr != "" && !IsAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}
