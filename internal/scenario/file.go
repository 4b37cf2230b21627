package scenario

import (
	"context"
	"net/http"
	"strings"

	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/types"
)

// File exercises file upload and the speech endpoints
type File struct {
	base
	uploaded types.FileRegistry
}

// NewFile creates the file domain for one virtual user
func NewFile(deps Deps) *File {
	return &File{
		base:     newBase("file", deps),
		uploaded: make(types.FileRegistry),
	}
}

// Uploaded returns the id of the last successful upload for a category
func (f *File) Uploaded(category types.FileCategory) (string, bool) {
	return f.uploaded.Get(category)
}

// Tasks returns the file operation weights
func (f *File) Tasks() []Task {
	return []Task{
		{Name: "upload_document", Weight: 3, Run: f.UploadDocument},
		{Name: "upload_image", Weight: 2, Run: f.UploadImage},
		{Name: "upload_audio", Weight: 1, Run: f.UploadAudio},
		{Name: "audio_to_text", Weight: 2, Run: f.AudioToText},
		{Name: "text_to_audio", Weight: 2, Run: f.TextToAudio},
	}
}

// PerformAll uploads every fixture, transcribes the audio once it is
// uploaded and synthesizes speech
func (f *File) PerformAll(ctx context.Context) error {
	return f.protect(ctx, f.performAll)
}

func (f *File) performAll(ctx context.Context) error {
	if err := runSteps(ctx, f.UploadDocument, f.UploadImage, f.UploadAudio); err != nil {
		return err
	}
	if _, ok := f.uploaded.Get(types.FileAudio); ok {
		if err := f.AudioToText(ctx); err != nil {
			return err
		}
	}
	return f.TextToAudio(ctx)
}

func (f *File) uploadCategory(ctx context.Context, category types.FileCategory) error {
	id, err := f.upload(ctx, category)
	if err != nil {
		return err
	}
	if id != "" {
		f.uploaded.Set(category, id)
	}
	return nil
}

// UploadDocument uploads the text fixture
func (f *File) UploadDocument(ctx context.Context) error {
	return f.uploadCategory(ctx, types.FileDocument)
}

// UploadImage uploads the image fixture
func (f *File) UploadImage(ctx context.Context) error {
	return f.uploadCategory(ctx, types.FileImage)
}

// UploadAudio uploads the audio fixture
func (f *File) UploadAudio(ctx context.Context) error {
	return f.uploadCategory(ctx, types.FileAudio)
}

// AudioToText transcribes the audio fixture. It needs a prior successful
// audio upload.
func (f *File) AudioToText(ctx context.Context) error {
	if _, ok := f.uploaded.Get(types.FileAudio); !ok {
		return nil
	}
	file, ok := f.files.Lookup(types.FileAudio)
	if !ok {
		return nil
	}

	_, err := f.send(ctx, executor.Request{
		Name:   "/audio-to-text",
		Method: http.MethodPost,
		Path:   "/audio-to-text",
		Form: &executor.Form{
			Fields:      map[string]string{"user": f.user()},
			FileField:   "file",
			FileName:    "audio.mp3",
			FilePath:    file.Path,
			ContentType: file.MIMEType,
		},
	}, "audio_to_text")
	return err
}

// TextToAudio synthesizes speech. An audio body counts as success.
func (f *File) TextToAudio(ctx context.Context) error {
	call, err := f.client.Send(ctx, executor.Request{
		Name:   "/text-to-audio",
		Method: http.MethodPost,
		Path:   "/text-to-audio",
		JSON: map[string]any{
			"text": "Hello, this is a test message for text to speech conversion.",
			"user": f.user(),
		},
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if executor.IsSuccessStatus(call.StatusCode) && strings.HasPrefix(call.Header().Get("Content-Type"), "audio/") {
		call.Success()
		return nil
	}
	call.Handle("text_to_audio")
	return nil
}
