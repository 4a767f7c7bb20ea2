package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	domainSession "github.com/AzielCF/az-crm/domains/session"
	pkgError "github.com/AzielCF/az-crm/pkg/error"
	pkgUtils "github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/application"
	"github.com/AzielCF/az-crm/session/domain/contact"
	"github.com/AzielCF/az-crm/session/domain/message"
	"github.com/AzielCF/az-crm/session/domain/session"
	"github.com/AzielCF/az-crm/validations"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// MediaOptions bounds outbound media handling.
type MediaOptions struct {
	// Dir receives a copy of every sent file, one folder per session.
	Dir     string
	MaxSize int64
}

type serviceSession struct {
	registry   *application.Registry
	pipeline   *application.Pipeline
	syncer     *application.Syncer
	owners     application.OwnerResolver
	downloader *pkgUtils.MediaDownloader
	media      MediaOptions
}

func NewSessionService(
	registry *application.Registry,
	pipeline *application.Pipeline,
	syncer *application.Syncer,
	owners application.OwnerResolver,
	downloader *pkgUtils.MediaDownloader,
	media MediaOptions,
) domainSession.ISessionUsecase {
	return &serviceSession{
		registry:   registry,
		pipeline:   pipeline,
		syncer:     syncer,
		owners:     owners,
		downloader: downloader,
		media:      media,
	}
}

func (service *serviceSession) CreateSession(ctx context.Context, request domainSession.CreateSessionRequest) (session.Session, error) {
	if err := validations.ValidateCreateSession(ctx, request); err != nil {
		return session.Session{}, err
	}
	s, err := service.registry.CreateSession(ctx, session.NewKey(request.UserID, request.Label))
	if err != nil {
		return session.Session{}, err
	}
	return *s, nil
}

func (service *serviceSession) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgError.ValidationError("user_id: cannot be blank.")
	}
	return service.registry.ListSessions(ctx, userID)
}

func (service *serviceSession) GetSessionStatus(ctx context.Context, request domainSession.SessionRequest) (domainSession.StatusResponse, error) {
	if err := validations.ValidateSessionRequest(ctx, request); err != nil {
		return domainSession.StatusResponse{}, err
	}
	key := session.NewKey(request.UserID, request.Label)

	response := domainSession.StatusResponse{
		Label:  key.Label,
		Status: service.registry.GetStatus(ctx, key),
	}
	if s, err := service.registry.Session(ctx, key); err == nil {
		response.SessionID = s.ID
		response.PhoneNumber = s.PhoneNumber
	}
	return response, nil
}

func (service *serviceSession) CloseSession(ctx context.Context, request domainSession.SessionRequest) error {
	if err := validations.ValidateSessionRequest(ctx, request); err != nil {
		return err
	}
	return service.registry.CloseSession(ctx, session.NewKey(request.UserID, request.Label))
}

func (service *serviceSession) DeleteSession(ctx context.Context, request domainSession.SessionRequest) error {
	if err := validations.ValidateSessionRequest(ctx, request); err != nil {
		return err
	}
	return service.registry.DeleteSession(ctx, session.NewKey(request.UserID, request.Label))
}

func (service *serviceSession) SendMessage(ctx context.Context, request domainSession.SendTextRequest) (domainSession.SendResponse, error) {
	if err := validations.ValidateSendText(ctx, request); err != nil {
		return domainSession.SendResponse{}, err
	}
	msg, err := service.registry.SendMessage(ctx, session.NewKey(request.UserID, request.Label), request.To, request.Text)
	if err != nil {
		return domainSession.SendResponse{}, err
	}
	return sendResponse(msg), nil
}

func (service *serviceSession) SendMedia(ctx context.Context, request domainSession.SendMediaRequest) (domainSession.SendResponse, error) {
	if err := validations.ValidateSendMedia(ctx, request); err != nil {
		return domainSession.SendResponse{}, err
	}
	key := session.NewKey(request.UserID, request.Label)

	// fail before downloading anything
	s, err := service.registry.Session(ctx, key)
	if err != nil {
		return domainSession.SendResponse{}, err
	}

	data, fileName, err := service.readMedia(request)
	if err != nil {
		return domainSession.SendResponse{}, err
	}

	mimeType := http.DetectContentType(data)
	kind := session.MediaKind(request.Kind)
	if kind == "" {
		kind = kindFromMime(mimeType)
	}

	// whatsapp wants png/jpeg for regular images
	if mimeType == "image/webp" && kind == session.MediaImage {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return domainSession.SendResponse{}, pkgError.ValidationError(fmt.Sprintf("failed to decode webp image: %v", err))
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return domainSession.SendResponse{}, pkgError.InternalServerError(fmt.Sprintf("failed to convert webp to png: %v", err))
		}
		data = buf.Bytes()
		mimeType = "image/png"
		fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName)) + ".png"
	}

	storedURL, storedPath, err := service.storeCopy(s.ID, fileName, mimeType, data)
	if err != nil {
		logrus.WithError(err).WithField("session_id", s.ID).Warn("[SEND] Could not keep a copy of outbound media")
	}

	msg, err := service.registry.SendMedia(ctx, key, request.To, session.MediaPayload{
		Kind:     kind,
		Data:     data,
		MimeType: mimeType,
		FileName: fileName,
		Caption:  request.Caption,
		URL:      storedURL,
	})
	if err != nil {
		// nothing references the copy of a failed send
		if storedPath != "" {
			if rmErr := os.Remove(storedPath); rmErr != nil {
				logrus.WithError(rmErr).Debugf("[SEND] Could not remove %s", storedPath)
			}
		}
		return domainSession.SendResponse{}, err
	}
	return sendResponse(msg), nil
}

func (service *serviceSession) GetMessages(ctx context.Context, request domainSession.MessagesRequest) ([]message.Message, error) {
	if err := validations.ValidateMessages(ctx, request); err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		s, err := service.registry.Session(ctx, session.NewKey(request.UserID, request.Label))
		if err != nil {
			return nil, err
		}
		sessionID = s.ID
	} else {
		owner, err := service.owners.OwnerOf(ctx, sessionID)
		if err != nil || owner != request.UserID {
			return nil, pkgError.SessionNotFoundError(sessionID)
		}
	}

	before, _ := validations.ParseBefore(request.Before)
	return service.pipeline.Messages(ctx, message.Query{
		SessionID: sessionID,
		ChatID:    pkgUtils.NormalizeAddress(request.ChatID),
		Limit:     request.Limit,
		Before:    before,
	})
}

func (service *serviceSession) SyncContacts(ctx context.Context, request domainSession.SessionRequest) ([]contact.SyncedContact, error) {
	if err := validations.ValidateSessionRequest(ctx, request); err != nil {
		return nil, err
	}
	return service.syncer.SyncContacts(ctx, session.NewKey(request.UserID, request.Label))
}

func (service *serviceSession) SyncChats(ctx context.Context, request domainSession.SessionRequest) ([]contact.SyncedChat, error) {
	if err := validations.ValidateSessionRequest(ctx, request); err != nil {
		return nil, err
	}
	return service.syncer.SyncChats(ctx, session.NewKey(request.UserID, request.Label))
}

func (service *serviceSession) readMedia(request domainSession.SendMediaRequest) ([]byte, string, error) {
	if request.File != nil {
		if service.media.MaxSize > 0 && request.File.Size > service.media.MaxSize {
			return nil, "", pkgError.ValidationError(pkgUtils.TooLargeError(request.File.Size, service.media.MaxSize).Error())
		}
		f, err := request.File.Open()
		if err != nil {
			return nil, "", pkgError.InternalServerError(fmt.Sprintf("failed to open upload: %v", err))
		}
		defer f.Close()

		var r io.Reader = f
		if service.media.MaxSize > 0 {
			r = io.LimitReader(f, service.media.MaxSize+1)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, "", pkgError.InternalServerError(fmt.Sprintf("failed to read upload: %v", err))
		}
		if service.media.MaxSize > 0 && int64(len(data)) > service.media.MaxSize {
			return nil, "", pkgError.ValidationError(pkgUtils.TooLargeError(int64(len(data)), service.media.MaxSize).Error())
		}
		return data, filepath.Base(request.File.Filename), nil
	}

	if service.downloader == nil {
		return nil, "", pkgError.ValidationError("media_url downloads are disabled")
	}
	data, name, err := service.downloader.Download(request.MediaURL)
	if err != nil {
		return nil, "", pkgError.ValidationError(err.Error())
	}
	return data, name, nil
}

// storeCopy writes the outbound file under the session media folder and
// returns its public URL and its path on disk.
func (service *serviceSession) storeCopy(sessionID, fileName, mimeType string, data []byte) (string, string, error) {
	if service.media.Dir == "" {
		return "", "", nil
	}
	ext := filepath.Ext(fileName)
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	path := filepath.Join(pkgUtils.SessionMediaPath(service.media.Dir, sessionID), uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", err
	}
	return "/" + strings.TrimPrefix(filepath.ToSlash(path), "/"), path, nil
}

func kindFromMime(mimeType string) session.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return session.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return session.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"), mimeType == "application/ogg":
		return session.MediaAudio
	}
	return session.MediaDocument
}

func sendResponse(msg *message.Message) domainSession.SendResponse {
	return domainSession.SendResponse{
		MessageID:         msg.ID,
		ExternalMessageID: msg.ExternalMessageID,
		Status:            msg.AckLevel.String(),
	}
}
