// Package testutil holds fixtures and deterministic helpers shared by tests.
//
// It imports nothing from the rest of the module so that any package's
// tests can use it without creating an import cycle.
package testutil

// Document is a small untyped document with 9 elements.
const Document = `<testDocument>
    <first>
        <firstChild1/>
        <firstChild2 attr="value"/>
    </first>
    <second><second1 /><second2 /><second3 /></second>
    <third/>
</testDocument>`

// DocumentCount is the number of elements in Document.
const DocumentCount = 9

// Namespace URIs used by the fixtures.
const (
	NSTimeline = "http://jackjansen.nl/timelines"
	NSTrigger  = "http://jackjansen.nl/2017/ns/trigger"
	NSState    = "http://jackjansen.nl/2018/ns/timeline-state"
)

// Events is a timeline with three abstract event templates (event1, event2,
// event3) under the trigger target "target", and one active, modifiable
// event (event4).
//
//   - event1 triggers 3 elements and has one optional parameter.
//   - event2 triggers 5 elements; its required parameter writes
//     ./tl:sleep/@tl:dur.
//   - event3 triggers 7 elements and keeps its tt:modparameters.
//   - event4 is active with modparameters.
const Events = `<tl:document xmlns:tl="` + NSTimeline + `" xmlns:tt="` + NSTrigger + `">
  <tl:par xml:id="target">
    <tt:events>
      <tl:par xml:id="event1" tt:name="Event One">
        <tt:parameters>
          <tt:parameter tt:name="Label" tt:parameter="./@tt:label" tt:type="string" />
        </tt:parameters>
        <tl:sleep tl:dur="1" />
        <tl:sleep tl:dur="2" />
      </tl:par>
      <tl:seq xml:id="event2" tt:name="Event Two">
        <tt:parameters>
          <tt:parameter tt:name="Duration" tt:parameter="./tl:sleep/@tl:dur" tt:type="number" tt:required="true" />
        </tt:parameters>
        <tl:sleep tl:dur="0" />
        <tl:par>
          <tl:ref xml:id="event2-ref" tl:dur="1" />
          <tl:ref tl:dur="2" />
        </tl:par>
      </tl:seq>
      <tl:par xml:id="event3" tt:name="Event Three">
        <tt:parameters>
          <tt:parameter tt:name="Duration" tt:parameter="./tl:sleep/@tl:dur" tt:type="number" tt:value="10" />
        </tt:parameters>
        <tt:modparameters>
          <tt:parameter tt:name="Duration" tt:parameter="./tl:sleep/@tl:dur" tt:type="number" />
        </tt:modparameters>
        <tl:sleep tl:dur="10" />
        <tl:par>
          <tl:ref tl:src="a.mp4" />
          <tl:ref tl:src="b.mp4" />
        </tl:par>
      </tl:par>
    </tt:events>
    <tl:par xml:id="event4" tt:name="Event Four">
      <tt:modparameters>
        <tt:parameter tt:name="Volume" tt:parameter="./tl:ref/@tl:volume" tt:type="set">
          <tt:option tt:name="Loud" tt:value="1.0" />
          <tt:option tt:name="Quiet" tt:value="0.2" />
        </tt:parameter>
      </tt:modparameters>
      <tl:ref tl:src="c.mp4" tl:volume="1.0" />
    </tl:par>
  </tl:par>
</tl:document>`

// EventsCount is the number of elements in Events.
const EventsCount = 30

// FanOut is a timeline whose single template has one parameter that fans
// out over three destinations: the user value, the clock, and a copy of the
// first destination.
const FanOut = `<tl:document xmlns:tl="` + NSTimeline + `" xmlns:tt="` + NSTrigger + `">
  <tl:par xml:id="target">
    <tt:events>
      <tl:par xml:id="show" tt:name="Show">
        <tt:parameters>
          <tt:parameter tt:name="Text" tt:parameter="./tt:fanout" tt:type="string" />
        </tt:parameters>
        <tt:fanout>
          <tt:destination tt:parameter="./tl:ref/@tl:text" tt:value="{value()}" />
          <tt:destination tt:parameter="./tl:ref/@tl:begin" tt:value="{clock(..)}" />
          <tt:destination tt:parameter="./tl:label/@tl:copy" tt:value="{./tl:ref/@tl:text}" />
        </tt:fanout>
        <tl:ref tl:text="" />
        <tl:label>caption</tl:label>
      </tl:par>
    </tt:events>
  </tl:par>
</tl:document>`
