package format

import (
	"strings"
	"text/template"

	"github.com/manifoldco/promptui"
	"github.com/vx-labs/cluster-sharding/actor"
)

var FuncMap = template.FuncMap{
	"join": func(l []string) string { return strings.Join(l, ", ") },
	"localPath": func(path string) string {
		_, local, err := actor.SplitPath(path)
		if err != nil {
			return path
		}
		return local
	},
	"address": func(path string) string {
		addr, _, err := actor.SplitPath(path)
		if err != nil {
			return path
		}
		return addr.HostPort()
	},
}

func ParseTemplate(body string) *template.Template {
	tpl, err := template.New("").Funcs(promptui.FuncMap).Funcs(FuncMap).Parse(body)
	if err != nil {
		panic(err)
	}
	return tpl
}
