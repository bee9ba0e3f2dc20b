package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/obfuscation/envelope"
	"github.com/ytget/mirrorresolve/obfuscation/keyring"
	"github.com/ytget/mirrorresolve/pkg/client"
	"github.com/ytget/mirrorresolve/types"
)

const playerAjaxAction = "doo_player_ajax"

// DirectDecrypt resolves DooPlay player options. The AJAX answer carries an encrypted
// player URL and the raw key; the player page holds a packed script with the file and
// subtitle tracks.
type DirectDecrypt struct {
	http HTTP
	base string
}

// NewDirectDecrypt returns a DirectDecrypt resolver posting to baseDomain.
func NewDirectDecrypt(h HTTP, baseDomain string) *DirectDecrypt {
	return &DirectDecrypt{http: h, base: strings.TrimRight(baseDomain, "/")}
}

// Resolve decrypts the player URL of m and extracts its stream.
func (r *DirectDecrypt) Resolve(ctx context.Context, m types.Mirror) (*Stream, error) {
	log := providerLog(types.KindDirectDecrypt)

	opts, err := playerOptions(m.Ref)
	if err != nil {
		return nil, err
	}
	if r.base == "" {
		return nil, shapeMismatch(types.KindDirectDecrypt, "no base domain configured")
	}

	form := url.Values{
		"action": {playerAjaxAction},
		"post":   {opts.Post},
		"nume":   {opts.Nume},
		"type":   {opts.Type},
	}
	body, err := r.http.PostForm(ctx, r.base+ajaxPath, form, http.Header{
		"Origin":           {r.base},
		"Referer":          {r.base + "/"},
		"X-Requested-With": {"XMLHttpRequest"},
	})
	if err != nil {
		return nil, fail(ctx, types.KindDirectDecrypt, errs.ReasonNetwork, err)
	}

	player, err := r.playerURL(body)
	if err != nil {
		return nil, err
	}
	origin, _ := client.Origin(player)
	log.Debug("player url decrypted", map[string]interface{}{"player": player})

	page, err := r.http.Get(ctx, player, http.Header{"Referer": {origin + "/"}})
	if err != nil {
		if err = fail(ctx, types.KindDirectDecrypt, errs.ReasonNetwork, err); errs.IsCanceled(err) {
			return nil, err
		}
		return nil, &FallbackError{EmbedURL: player, Err: err}
	}
	script, err := unpackFirst(string(page))
	if err != nil {
		if errs.IsFatal(err) {
			return nil, err
		}
		return nil, &FallbackError{EmbedURL: player, Err: shapeMismatch(types.KindDirectDecrypt, "player page: %v", err)}
	}
	s, ok := mediaFromText(ctx, script)
	if !ok {
		return nil, &FallbackError{EmbedURL: player, Err: shapeMismatch(types.KindDirectDecrypt, "player script has no file")}
	}
	return s, nil
}

// playerURL turns the {key, embed_url} answer into the player URL. embed_url is either
// a cipher envelope (with the key index list in its m field) or already a plain URL.
func (r *DirectDecrypt) playerURL(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", shapeMismatch(types.KindDirectDecrypt, "player answer is not JSON")
	}
	embed := gjson.GetBytes(body, "embed_url").String()
	if u, ok := absoluteURL(strings.TrimSpace(embed)); ok {
		return u, nil
	}
	if src, ok := markup.IframeSrc(embed); ok {
		if u, ok := absoluteURL(src); ok {
			return u, nil
		}
	}

	key := gjson.GetBytes(body, "key").String()
	if key == "" || !gjson.Valid(embed) {
		return "", shapeMismatch(types.KindDirectDecrypt, "player answer has no key or envelope")
	}
	pass, err := keyring.Reconstruct(key, embed)
	if err != nil {
		return "", shapeMismatch(types.KindDirectDecrypt, "key reconstruction: %v", err)
	}
	plain, err := envelope.Decode(embed, pass)
	if err != nil {
		return "", shapeMismatch(types.KindDirectDecrypt, "envelope: %v", err)
	}

	// CryptoJS payloads are JSON encoded strings more often than not.
	plain = strings.TrimSpace(plain)
	var quoted string
	if json.Unmarshal([]byte(plain), &quoted) == nil {
		plain = quoted
	}
	u, ok := absoluteURL(strings.ReplaceAll(plain, `\/`, `/`))
	if !ok {
		return "", shapeMismatch(types.KindDirectDecrypt, "decrypted player url is not http(s)")
	}
	return u, nil
}

// playerOptions reads data-type, data-post and data-nume from the mirror reference,
// which is the option element's HTML, either raw or base64.
func playerOptions(ref string) (markup.Options, error) {
	html := ref
	if !strings.Contains(ref, "<") {
		decoded, err := decodeBase64(ref)
		if err != nil {
			return markup.Options{}, errs.NewError(errs.CodeDecode, "player option reference is neither html nor base64")
		}
		html = decoded
	}
	doc, err := markup.Parse(html)
	if err != nil {
		return markup.Options{}, errs.NewError(errs.CodeDecode, "player option html", err.Error())
	}
	opts, ok := doc.Options()
	if !ok {
		return markup.Options{}, errs.NewError(errs.CodeDecode, "player option has no data-post/data-nume")
	}
	return opts, nil
}
