package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetcore/internal/blob"
	"fleetcore/pkg/domain"
)

// DefaultMaxImageBytes caps image uploads unless overridden with WithMaxImageBytes.
const DefaultMaxImageBytes int64 = 5 << 20

const imagePrefix = "images/"

func imageKey(id string) string { return imagePrefix + id }

// ErrImagesDisabled is returned by image operations when no blob store is configured.
var ErrImagesDisabled = fmt.Errorf("images disabled: %w", blob.ErrUnsupported)

// PutImage stores an image for the machine and points its image field at the
// stored object. Non-image payloads and oversized uploads are rejected.
func (s *Service) PutImage(ctx context.Context, id string, r io.Reader) (eq domain.Equipment, err error) {
	defer s.track(ctx, "put_image", time.Now(), &err, "equipment_id", id)
	if s.images == nil {
		return domain.Equipment{}, ErrImagesDisabled
	}
	if _, err := s.equipment.Get(ctx, id); err != nil {
		return domain.Equipment{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxImageBytes+1))
	if err != nil {
		return domain.Equipment{}, domain.NewEntityError("put image", domain.EntityEquipment, id, err)
	}
	if int64(len(data)) > s.maxImageBytes {
		return domain.Equipment{}, domain.NewEntityError("put image", domain.EntityEquipment, id,
			domain.Invalid("image", fmt.Sprintf("larger than %d bytes", s.maxImageBytes)))
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return domain.Equipment{}, domain.NewEntityError("put image", domain.EntityEquipment, id,
			domain.Invalid("image", "unsupported content type "+contentType))
	}
	key := imageKey(id)
	_, err = s.images.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"equipment-id": id},
	})
	if err != nil {
		return domain.Equipment{}, domain.NewEntityError("put image", domain.EntityEquipment, id, domain.StorageError("blob put", err))
	}
	return s.equipment.Mutate(ctx, id, func(cur domain.Equipment) (domain.Equipment, error) {
		cur.Image = key
		cur.Tasks = domain.RecomputeUrgency(cur.Tasks, cur.CurrentHours)
		return cur, nil
	})
}

// GetImage opens the stored image of a machine. Machines whose image is an
// external URL, or who have none, report ErrNotFound. The caller closes the body.
func (s *Service) GetImage(ctx context.Context, id string) (info blob.Info, body io.ReadCloser, err error) {
	defer s.track(ctx, "get_image", time.Now(), &err, "equipment_id", id)
	if s.images == nil {
		return blob.Info{}, nil, ErrImagesDisabled
	}
	eq, err := s.equipment.Get(ctx, id)
	if err != nil {
		return blob.Info{}, nil, err
	}
	if eq.Image != imageKey(id) {
		return blob.Info{}, nil, domain.NewEntityError("get image", domain.EntityEquipment, id, domain.ErrNotFound)
	}
	info, body, err = s.images.Get(ctx, eq.Image)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return blob.Info{}, nil, domain.NewEntityError("get image", domain.EntityEquipment, id, domain.ErrNotFound)
	case err != nil:
		return blob.Info{}, nil, domain.NewEntityError("get image", domain.EntityEquipment, id, domain.StorageError("blob get", err))
	}
	return info, body, nil
}

// DefaultImageURLExpiry bounds links handed out by ImageURL.
const DefaultImageURLExpiry = 15 * time.Minute

// ImageURL returns a time-limited GET link to the stored image. Backends that
// cannot sign links report blob.ErrUnsupported.
func (s *Service) ImageURL(ctx context.Context, id string, expiry time.Duration) (url string, err error) {
	defer s.track(ctx, "image_url", time.Now(), &err, "equipment_id", id)
	if s.images == nil {
		return "", ErrImagesDisabled
	}
	eq, err := s.equipment.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if eq.Image != imageKey(id) {
		return "", domain.NewEntityError("image url", domain.EntityEquipment, id, domain.ErrNotFound)
	}
	if expiry <= 0 {
		expiry = DefaultImageURLExpiry
	}
	url, err = s.images.PresignURL(ctx, eq.Image, blob.SignedURLOptions{Method: http.MethodGet, Expiry: expiry})
	switch {
	case errors.Is(err, blob.ErrUnsupported):
		return "", err
	case err != nil:
		return "", domain.NewEntityError("image url", domain.EntityEquipment, id, domain.StorageError("blob presign", err))
	}
	return url, nil
}
