package xmlcurl

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/namith-arrellio/fs-ec2/internal/directory"
)

// notFoundXML is returned whenever a lookup has no answer; the switch then
// falls back to its static configuration files.
const notFoundXML = `<?xml version="1.0" encoding="UTF-8"?>
<document type="freeswitch/xml">
  <section name="result">
    <result status="not found"/>
  </section>
</document>`

var userTmpl = template.Must(template.New("user").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<document type="freeswitch/xml">
  <section name="directory">
    <domain name="{{.Domain}}">
      <params>
        <param name="dial-string" value="{^^:sip_invite_domain=${dialed_domain}:presence_id=${dialed_user}@${dialed_domain}}${sofia_contact(*/${dialed_user}@${dialed_domain})}"/>
      </params>
      <user id="{{.UserID}}">
        <params>
          <param name="password" value="{{.Password}}"/>
          <param name="vm-password" value="{{.VoicemailPassword}}"/>
        </params>
        <variables>
          <variable name="toll_allow" value="{{.TollAllow}}"/>
          <variable name="accountcode" value="{{.Domain}}-{{.UserID}}"/>
          <variable name="user_context" value="{{.Context}}"/>
          <variable name="effective_caller_id_name" value="{{.DisplayName}}"/>
          <variable name="effective_caller_id_number" value="{{.UserID}}"/>
          <variable name="outbound_caller_id_number" value="{{.CallerID}}"/>
        </variables>
      </user>
    </domain>
  </section>
</document>`))

type userDoc struct {
	Domain            string
	UserID            string
	Password          string
	VoicemailPassword string
	TollAllow         string
	DisplayName       string
	Context           string
	CallerID          string
}

var dialplanTmpl = template.Must(template.New("dialplan").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<document type="freeswitch/xml">
  <section name="dialplan">
    <context name="{{.Context}}">
{{- if .ParkPattern}}
      <extension name="park_slot">
        <condition field="destination_number" expression="{{.ParkPattern}}">
          <action application="set" data="fifo_music=local_stream://moh"/>
          <action application="valet_park" data="{{.LotName}} $1"/>
        </condition>
      </extension>
{{- end}}
      <extension name="call_routing">
        <condition field="destination_number" expression="^(.*)$">
          <action application="socket" data="{{.SocketAddr}} async full"/>
        </condition>
      </extension>
    </context>
  </section>
</document>`))

type dialplanDoc struct {
	Context     string
	ParkPattern string
	LotName     string
	SocketAddr  string
}

var sofiaTmpl = template.Must(template.New("sofia").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<document type="freeswitch/xml">
  <section name="configuration">
    <configuration name="sofia.conf" description="sofia Endpoint">
      <global_settings>
        <param name="log-level" value="0"/>
        <param name="debug-presence" value="0"/>
      </global_settings>
      <profiles>
        <profile name="internal">
          <aliases></aliases>
          <gateways></gateways>
          <domains>
            <domain name="all" alias="true" parse="false"/>
          </domains>
          <settings>
            <param name="context" value="public"/>
            <param name="sip-port" value="5060"/>
            <param name="dialplan" value="XML"/>
            <param name="rfc2833-pt" value="101"/>
            <param name="dtmf-duration" value="2000"/>
            <param name="inbound-codec-prefs" value="OPUS,G722,PCMU,PCMA"/>
            <param name="outbound-codec-prefs" value="OPUS,G722,PCMU,PCMA"/>
            <param name="inbound-codec-negotiation" value="generous"/>
            <param name="inbound-late-negotiation" value="true"/>
            <param name="rtp-timer-name" value="soft"/>
            <param name="rtp-ip" value="{{.BindIP}}"/>
            <param name="sip-ip" value="{{.BindIP}}"/>
            <param name="ext-rtp-ip" value="stun:stun.freeswitch.org"/>
            <param name="ext-sip-ip" value="stun:stun.freeswitch.org"/>
            <param name="hold-music" value="local_stream://moh"/>
            <param name="apply-nat-acl" value="nat.auto"/>
            <param name="apply-inbound-acl" value="domains"/>
            <param name="local-network-acl" value="localnet.auto"/>
            <param name="NDLB-force-rport" value="true"/>
            <param name="aggressive-nat-detection" value="true"/>
            <param name="nonce-ttl" value="60"/>
            <param name="auth-calls" value="true"/>
            <param name="auth-subscriptions" value="true"/>
            <param name="inbound-reg-force-matching-username" value="true"/>
            <param name="challenge-realm" value="auto_from"/>
            <param name="rtp-timeout-sec" value="300"/>
            <param name="rtp-hold-timeout-sec" value="1800"/>
            <param name="manage-presence" value="true"/>
            <param name="presence-hosts" value="{{.PresenceHosts}}"/>
            <param name="tls" value="false"/>
            <param name="ws-binding" value=":5066"/>
            <param name="wss-binding" value=":7443"/>
          </settings>
        </profile>
        <profile name="external">
          <gateways>
{{- range .Gateways}}
            <gateway name="{{.Name}}">
              <param name="username" value="{{.Username}}"/>
              <param name="password" value="{{.Password}}"/>
              <param name="realm" value="{{.Realm}}"/>
              <param name="proxy" value="{{.Proxy}}"/>
              <param name="register" value="{{if .Register}}true{{else}}false{{end}}"/>
              <param name="caller-id-in-from" value="true"/>
            </gateway>
{{- end}}
          </gateways>
          <aliases></aliases>
          <domains>
            <domain name="all" alias="false" parse="true"/>
          </domains>
          <settings>
            <param name="context" value="public"/>
            <param name="sip-port" value="5080"/>
            <param name="dialplan" value="XML"/>
            <param name="rfc2833-pt" value="101"/>
            <param name="dtmf-duration" value="2000"/>
            <param name="inbound-codec-prefs" value="OPUS,G722,PCMU,PCMA"/>
            <param name="outbound-codec-prefs" value="OPUS,G722,PCMU,PCMA"/>
            <param name="inbound-codec-negotiation" value="generous"/>
            <param name="inbound-late-negotiation" value="true"/>
            <param name="rtp-timer-name" value="soft"/>
            <param name="rtp-ip" value="{{.BindIP}}"/>
            <param name="sip-ip" value="{{.BindIP}}"/>
            <param name="ext-rtp-ip" value="stun:stun.freeswitch.org"/>
            <param name="ext-sip-ip" value="stun:stun.freeswitch.org"/>
            <param name="hold-music" value="local_stream://moh"/>
            <param name="local-network-acl" value="localnet.auto"/>
            <param name="nonce-ttl" value="60"/>
            <param name="auth-calls" value="false"/>
            <param name="manage-presence" value="false"/>
            <param name="rtp-timeout-sec" value="300"/>
            <param name="rtp-hold-timeout-sec" value="1800"/>
            <param name="tls" value="false"/>
          </settings>
        </profile>
      </profiles>
    </configuration>
  </section>
</document>`))

type sofiaDoc struct {
	BindIP        string
	PresenceHosts string
	Gateways      []directory.Trunk
}

// parkPattern builds the dialplan regex matching a tenant's parking slots,
// with or without the explicit park prefix.
func parkPattern(slots []string) string {
	if len(slots) == 0 {
		return ""
	}
	return fmt.Sprintf(`^(?:park\+)?(%s)$`, strings.Join(slots, "|"))
}
