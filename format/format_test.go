package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	tpl := ParseTemplate(`{{ .Path | address }} {{ .Path | localPath }} [{{ .Shards | join }}]`)
	out := bytes.NewBuffer(nil)
	require.NoError(t, tpl.Execute(out, map[string]interface{}{
		"Path":   "akka.tcp://shop@192.0.2.1:3500/system/sharding/cart",
		"Shards": []string{"1", "7"},
	}))
	require.Equal(t, "192.0.2.1:3500 /system/sharding/cart [1, 7]", out.String())

	out.Reset()
	require.NoError(t, tpl.Execute(out, map[string]interface{}{"Path": "not-a-path", "Shards": []string{}}))
	require.Equal(t, "not-a-path not-a-path []", out.String())
}
