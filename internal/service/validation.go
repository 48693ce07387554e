package service

import (
	"regexp"
	"strings"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+\-\s()]+$`)
)

func validateCustomer(info CustomerInfo) *ValidationError {
	fields := make(map[string]string)

	if strings.TrimSpace(info.Name) == "" {
		fields["name"] = "name is required"
	}
	phone := strings.TrimSpace(info.Phone)
	switch {
	case phone == "":
		fields["phone"] = "phone is required"
	case !phonePattern.MatchString(phone):
		fields["phone"] = "phone may contain only digits, spaces and + - ( )"
	}
	if strings.TrimSpace(info.Address) == "" {
		fields["address"] = "address is required"
	}
	if email := strings.TrimSpace(info.Email); email != "" && !emailPattern.MatchString(email) {
		fields["email"] = "email is not a valid address"
	}
	switch {
	case info.PaymentMethod == "":
		fields["payment_method"] = "payment method is required"
	case !info.PaymentMethod.Valid():
		fields["payment_method"] = "unknown payment method"
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func validatePatch(patch domain.StatusPatch) *ValidationError {
	if patch.IsEmpty() {
		return &ValidationError{Fields: map[string]string{
			"status": "fulfillment_status or payment_status is required",
		}}
	}
	fields := make(map[string]string)
	if patch.Fulfillment != nil && !patch.Fulfillment.Valid() {
		fields["fulfillment_status"] = "unknown fulfillment status"
	}
	if patch.Payment != nil && !patch.Payment.Valid() {
		fields["payment_status"] = "unknown payment status"
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
