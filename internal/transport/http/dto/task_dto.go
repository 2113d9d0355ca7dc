package dto

import (
	"regexp"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ValidTaskID reports whether id is acceptable as a path parameter.
func ValidTaskID(id string) bool {
	return idPattern.MatchString(id)
}

type AssetRef struct {
	TypeID  string `json:"type_id"`
	AssetID string `json:"asset_id"`
}

func (a AssetRef) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.TypeID, validation.Required, validation.Length(1, 64)),
		validation.Field(&a.AssetID, validation.Required, validation.Length(1, 128)),
	)
}

type CreateTaskRequest struct {
	ID         string                 `json:"id,omitempty"`
	Operation  string                 `json:"operation"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Assets     []AssetRef             `json:"assets"`
	NextTaskID string                 `json:"next_task_id,omitempty"`
}

func operationValues() []interface{} {
	out := make([]interface{}, 0, len(domain.OperationKinds))
	for _, k := range domain.OperationKinds {
		out = append(out, string(k))
	}
	return out
}

// Validate returns one message per invalid field.
func (r *CreateTaskRequest) Validate() []string {
	err := validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.When(r.ID != "", validation.Match(idPattern))),
		validation.Field(&r.Operation, validation.Required, validation.In(operationValues()...)),
		validation.Field(&r.Assets, validation.Required),
		validation.Field(&r.NextTaskID, validation.When(r.NextTaskID != "", validation.Match(idPattern))),
	)
	return flatten(err)
}

func (r *CreateTaskRequest) Input() ports.CreateTaskInput {
	input := ports.CreateTaskInput{
		ID:         r.ID,
		Operation:  domain.OperationKind(r.Operation),
		Payload:    domain.JSONB(r.Payload),
		NextTaskID: r.NextTaskID,
	}
	for _, a := range r.Assets {
		input.Assets = append(input.Assets, domain.AssetKey{TypeID: a.TypeID, AssetID: a.AssetID})
	}
	return input
}

type TaskResponse struct {
	*domain.Task
	SubAssetRecords []domain.SubAssetRecord `json:"sub_asset_records,omitempty"`
}

type DispatchResponse struct {
	TaskID   string                  `json:"task_id"`
	Outcomes []ports.DispatchOutcome `json:"outcomes"`
}

type ErrorResponse struct {
	Error    string   `json:"error"`
	Code     int      `json:"code,omitempty"`
	TextCode string   `json:"text_code,omitempty"`
	Details  []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

func flatten(err error) []string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validation.Errors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for field, fe := range errs {
		out = append(out, field+": "+fe.Error())
	}
	return out
}
