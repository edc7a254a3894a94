package twilio

import (
	"encoding/xml"
)

// TwiML 响应，只包含外呼告警用到的动词
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []interface{}
}

type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather 收集按键，按键后 Twilio 向 Action 发起 POST，参数 Digits
type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Says      []Say
}

type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) Say(text string) *Response {
	r.Verbs = append(r.Verbs, Say{Voice: "Polly.Joanna", Language: "en-US", Text: text})
	return r
}

func (r *Response) Gather(g Gather) *Response {
	r.Verbs = append(r.Verbs, g)
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.Verbs = append(r.Verbs, Redirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Hangup() *Response {
	r.Verbs = append(r.Verbs, Hangup{})
	return r
}

// Marshal 带 XML 声明
func (r *Response) Marshal() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// NewSay Gather 内的播报
func NewSay(text string) Say {
	return Say{Voice: "Polly.Joanna", Language: "en-US", Text: text}
}
