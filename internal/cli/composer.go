package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agri-assist-go/internal/engine"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MaxImageBytes 是单张图片允许的最大体积。
	MaxImageBytes = 5 * 1024 * 1024
	// MaxVoiceBytes 是单段录音允许的最大体积。
	MaxVoiceBytes = 25 * 1024 * 1024
)

var (
	ErrTooManyImages = fmt.Errorf("maximum %d images allowed per message", engine.MaxImages)
	ErrNotImage      = errors.New("please select only image files")
	ErrImageTooLarge = errors.New("image is too large (max 5MB)")
	ErrNotAudio      = errors.New("file is not an audio recording")
	ErrVoiceTooLarge = errors.New("recording is too large (max 25MB)")
)

// Attachment 是一张待发送的图片。
type Attachment struct {
	Name string
	MIME string
	Data string // base64，不含 data: 前缀
}

// Composer 保存下一条消息待发送的图片。
type Composer struct {
	attachments []Attachment
}

// AddImage 校验并读取一张图片。
func (c *Composer) AddImage(path string) (Attachment, error) {
	if len(c.attachments) >= engine.MaxImages {
		return Attachment{}, ErrTooManyImages
	}
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, err
	}
	if info.Size() > MaxImageBytes {
		return Attachment{}, ErrImageTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, err
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return Attachment{}, ErrNotImage
	}

	a := Attachment{
		Name: filepath.Base(path),
		MIME: mime.String(),
		Data: base64.StdEncoding.EncodeToString(data),
	}
	c.attachments = append(c.attachments, a)
	return a, nil
}

// Images 返回待发送图片的 base64 内容。
func (c *Composer) Images() []string {
	if len(c.attachments) == 0 {
		return nil
	}
	out := make([]string, len(c.attachments))
	for i, a := range c.attachments {
		out[i] = a.Data
	}
	return out
}

// Attachments 返回待发送图片的拷贝。
func (c *Composer) Attachments() []Attachment {
	return append([]Attachment(nil), c.attachments...)
}

// Clear 清空待发送图片，消息发送后调用。
func (c *Composer) Clear() {
	c.attachments = nil
}

// Voice 是一段待转写的录音。
type Voice struct {
	Filename    string
	ContentType string
	File        *os.File
}

// OpenVoice 校验录音文件并打开它，调用方负责关闭 File。
func OpenVoice(path string) (*Voice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxVoiceBytes {
		return nil, ErrVoiceTooLarge
	}
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	// 浏览器录制的 webm 会被识别为 video/webm
	if !strings.HasPrefix(mime.String(), "audio/") && !mime.Is("video/webm") {
		return nil, ErrNotAudio
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Voice{
		Filename:    filepath.Base(path),
		ContentType: mime.String(),
		File:        f,
	}, nil
}
