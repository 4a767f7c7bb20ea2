package validations

import (
	"context"
	"errors"
	"regexp"
	"strings"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	session "github.com/AzielCF/az-crm/session/domain/session"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	labelPattern    = regexp.MustCompile(`^[A-Za-z0-9_\-]*$`)
	mediaURLPattern = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
)

// user ids end up base32 encoded in a directory name
var userRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 128),
}

var labelRules = []validation.Rule{
	validation.Length(0, 64),
	validation.Match(labelPattern).Error("must contain only letters, digits, '-' or '_'"),
}

var mediaKinds = []any{
	"",
	string(session.MediaImage),
	string(session.MediaVideo),
	string(session.MediaAudio),
	string(session.MediaDocument),
	string(session.MediaSticker),
}

func ValidateCreateSession(ctx context.Context, request domainSession.CreateSessionRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, userRules...),
		validation.Field(&request.Label, labelRules...),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateSessionRequest(ctx context.Context, request domainSession.SessionRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, userRules...),
		validation.Field(&request.Label, labelRules...),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateSendText(ctx context.Context, request domainSession.SendTextRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, userRules...),
		validation.Field(&request.Label, labelRules...),
		validation.Field(&request.To, validation.Required, validation.Length(3, 128)),
		validation.Field(&request.Text, validation.Required, validation.Length(1, 65536)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateSendMedia(ctx context.Context, request domainSession.SendMediaRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, userRules...),
		validation.Field(&request.Label, labelRules...),
		validation.Field(&request.To, validation.Required, validation.Length(3, 128)),
		validation.Field(&request.Kind, validation.In(mediaKinds...)),
		validation.Field(&request.Caption, validation.Length(0, 4096)),
		validation.Field(&request.MediaURL,
			validation.When(request.File == nil, validation.Required.Error("media_url or file is required")),
			validation.Match(mediaURLPattern).Error("must be an http(s) url"),
		),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	if request.File != nil && strings.TrimSpace(request.MediaURL) != "" {
		return pkgError.ValidationError("send either a file or a media_url, not both")
	}
	return nil
}

func ValidateMessages(ctx context.Context, request domainSession.MessagesRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, userRules...),
		validation.Field(&request.Label, labelRules...),
		validation.Field(&request.Limit, validation.Min(0)),
		validation.Field(&request.Before, validation.By(validBefore)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func validBefore(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, ok := ParseBefore(s); !ok {
		return errors.New("must be RFC3339 or epoch seconds")
	}
	return nil
}
