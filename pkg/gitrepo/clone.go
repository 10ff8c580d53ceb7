// Package gitrepo 通过 git 命令行克隆远端仓库。
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ErrFileURLDisabled 表示未开启 allow_file_urls 时提交了 file:// 地址。
var ErrFileURLDisabled = errors.New("file:// git urls are disabled")

var (
	// 允许 https://host/owner/repo.git、git@host:owner/repo.git、ssh://、file:///path
	sshURLPattern = regexp.MustCompile(`^(git@|ssh://)[\w.\-@:/%~]+$`)

	// 可能被用于命令注入的字符
	dangerousChars = regexp.MustCompile(`[;&|$` + "`" + `\n\r\\<>]`)
)

// ValidateURL 校验仓库地址的协议与字符集，拒绝内嵌密码的地址。
// allowFile 为 false 时拒绝 file:// 地址，避免通过接口读取服务器本地仓库。
func ValidateURL(rawURL string, allowFile bool) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return errors.New("git url is empty")
	}
	if strings.HasPrefix(rawURL, "-") {
		return errors.New("git url must not start with '-'")
	}
	if dangerousChars.MatchString(rawURL) {
		return errors.New("git url contains dangerous characters")
	}

	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid url format: %w", err)
		}
		if parsed.Host == "" {
			return errors.New("git url missing host")
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return errors.New("git url must not contain an embedded password")
			}
		}
		return nil
	case strings.HasPrefix(rawURL, "git@"), strings.HasPrefix(rawURL, "ssh://"):
		if !sshURLPattern.MatchString(rawURL) {
			return errors.New("invalid ssh git url format")
		}
		return nil
	case strings.HasPrefix(rawURL, "file://"):
		if !allowFile {
			return ErrFileURLDisabled
		}
		if strings.TrimPrefix(rawURL, "file://") == "" {
			return errors.New("file url missing path")
		}
		return nil
	}
	return errors.New("unsupported git url protocol: must be https://, http://, git@, ssh:// or file://")
}

// RedactURL 去掉用户信息与查询参数，用于日志输出。
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return rawURL
	}
	parsed.RawQuery = ""
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	return parsed.String()
}

// Cloner 调用本机 git 克隆仓库的默认分支。
type Cloner struct {
	Binary        string
	Depth         int
	AllowFileURLs bool
}

// NewCloner 创建 Cloner，binary 为空时使用 PATH 中的 git。
func NewCloner(binary string, depth int, allowFileURLs bool) *Cloner {
	if binary == "" {
		binary = "git"
	}
	return &Cloner{Binary: binary, Depth: depth, AllowFileURLs: allowFileURLs}
}

// Validate 按 Cloner 的配置校验仓库地址。
func (c *Cloner) Validate(rawURL string) error {
	return ValidateURL(rawURL, c.AllowFileURLs)
}

// Clone 把 rawURL 克隆到 dest，dest 必须不存在或为空目录。
func (c *Cloner) Clone(ctx context.Context, rawURL, dest string) error {
	if err := c.Validate(rawURL); err != nil {
		return err
	}

	args := []string{"clone", "--quiet"}
	if c.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(c.Depth))
	}
	// "--" 之后的参数不会再被解析为选项
	args = append(args, "--", rawURL, dest)

	// #nosec G204 - url 已通过 ValidateURL 校验
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("git clone %s: %w", RedactURL(rawURL), ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("git clone %s: %w", RedactURL(rawURL), err)
		}
		return fmt.Errorf("git clone %s: %w: %s", RedactURL(rawURL), err, msg)
	}
	return nil
}
