package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load 从YAML文件加载内容包
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取内容包失败: %w", err)
	}

	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("加载内容包 %s 失败: %w", path, err)
	}
	return store, nil
}

// Parse 解析YAML内容包；未知字段视为错误
func Parse(data []byte) (*Store, error) {
	pack, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewStore(*pack)
}

// Decode 仅解码不校验；validate命令随后调用Pack.Validate列出全部问题
func Decode(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pack Pack
	if err := dec.Decode(&pack); err != nil {
		if errors.Is(err, io.EOF) {
			return &pack, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return &pack, nil
}
