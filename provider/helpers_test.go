package provider

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ytget/mirrorresolve/obfuscation/basen"
	"github.com/ytget/mirrorresolve/pkg/client"
)

const packerFunc = `eval(function(p,a,c,k,e,d){e=function(c){return(c<a?'':e(parseInt(c/a)))+((c=c%a)>35?String.fromCharCode(c+29):c.toString(36))};if(!''.replace(/^/,String)){while(c--){d[e(c)]=k[c]||e(c)}k=[function(e){return d[e]}];e=function(){return'\\w+'};c=1};while(c--){if(k[c]){p=p.replace(new RegExp('\\b'+e(c)+'\\b','g'),k[c])}}return p}`

// packScript packs source with radix 62, one table entry per distinct word.
func packScript(t *testing.T, source string) string {
	t.Helper()
	dec, err := basen.New(62)
	if err != nil {
		t.Fatal(err)
	}
	index := map[string]int{}
	var symtab []string
	payload := regexp.MustCompile(`\w+`).ReplaceAllStringFunc(source, func(w string) string {
		i, ok := index[w]
		if !ok {
			i = len(symtab)
			index[w] = i
			symtab = append(symtab, w)
		}
		return dec.Encode(i)
	})
	payload = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(payload)
	return fmt.Sprintf("%s('%s',62,%d,'%s'.split('|'),0,{}))", packerFunc, payload, len(symtab), strings.Join(symtab, "|"))
}

// page wraps scripts in a minimal HTML document.
func page(title string, body string, scripts ...string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>" + title + "</title></head><body>" + body)
	for _, s := range scripts {
		b.WriteString("<script type=\"text/javascript\">" + s + "</script>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func testClient() *client.Client {
	c := client.New()
	c.Retries = 1
	c.Backoff = time.Millisecond
	return c
}
