package http

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     twimlSay     `xml:"Say"`
	Pause   twimlPause   `xml:"Pause"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr"`
	Rate  string `xml:"rate,attr"`
	Text  string `xml:",chardata"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// streamURL is the websocket address the telephony provider should dial.
// Without a configured public URL it is derived from the request host.
func streamURL(c *gin.Context, publicURL, path string) string {
	if publicURL != "" {
		return publicURL
	}
	scheme := "wss"
	if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
		scheme = "ws"
	}
	return scheme + "://" + c.Request.Host + "/" + strings.TrimPrefix(path, "/")
}

func twilioStreamHandler(greeting, publicURL, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		callSID := c.PostForm("CallSid")
		caller := c.DefaultPostForm("From", "Unknown")
		log.Info().Str("module", "adapters.http").Str("call_sid", callSID).Str("from", caller).Msg("incoming call")

		resp := twimlResponse{
			Say:   twimlSay{Voice: "alice", Rate: "medium", Text: greeting},
			Pause: twimlPause{Length: 1},
			Connect: twimlConnect{Stream: twimlStream{
				URL: streamURL(c, publicURL, path),
				Parameters: []twimlParameter{
					{Name: "callSid", Value: callSID},
					{Name: "from", Value: caller},
				},
			}},
		}
		body, err := xml.Marshal(resp)
		if err != nil {
			c.String(http.StatusInternalServerError, "twiml")
			return
		}
		c.Data(http.StatusOK, "text/xml; charset=utf-8", append([]byte(xml.Header), body...))
	}
}

func callStatusHandler(c *gin.Context) {
	log.Info().
		Str("module", "adapters.http").
		Str("call_sid", c.PostForm("CallSid")).
		Str("status", c.PostForm("CallStatus")).
		Msg("call status")
	c.String(http.StatusOK, "OK")
}
