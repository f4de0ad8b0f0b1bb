package schema

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// versionRegex matches dotted version strings like "1.0.0".
var versionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validator validates raw and parsed state documents.
type Validator struct {
	validate *validator.Validate
}

// NewValidator constructs a Validator with struct-tag validation enabled.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate parses raw YAML bytes into a state document and validates it.
// Parse failures yield a parse_error corruption; schema failures collect
// every violation into a schema_invalid corruption.
func (v *Validator) Validate(raw []byte) (*domain.State, error) {
	var s domain.State
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, errors.NewCorruptionError(errors.CorruptionParse, err)
	}
	if err := v.ValidateState(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidateState validates an already-parsed document against the schema.
// All violations are collected before returning.
func (v *Validator) ValidateState(s *domain.State) error {
	var details []string

	if err := v.validate.Struct(s); err != nil {
		verrs := validator.ValidationErrors{}
		if ok := asValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			details = append(details, err.Error())
		}
	}

	// Checks the tag language cannot express. A malformed checksum string
	// is left for checksum verification, which reports it as a mismatch.
	if s.SchemaVersion != "" && !versionRegex.MatchString(s.SchemaVersion) {
		details = append(details, fmt.Sprintf("schemaVersion %q is not a dotted version", s.SchemaVersion))
	}
	if s.CompletedSteps == nil {
		details = append(details, "completedSteps must be present")
	}

	if len(details) > 0 {
		return errors.NewCorruptionError(errors.CorruptionSchema, nil, details...)
	}
	return nil
}

// asValidationErrors extracts validator.ValidationErrors from err.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the slice directly
	if ok {
		*target = ve
	}
	return ok
}
